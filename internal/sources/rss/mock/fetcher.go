package mock

import (
	"context"

	"github.com/bakkerme/dealwatch/internal/sources/rss"
)

type Fetcher struct {
	ItemsByFeed map[string][]rss.Item
	ErrByFeed   map[string]error
	Options     []rss.FetchOptions
}

func (f *Fetcher) Fetch(_ context.Context, feedURL string, options rss.FetchOptions) ([]rss.Item, error) {
	f.Options = append(f.Options, options)
	if err, ok := f.ErrByFeed[feedURL]; ok {
		return nil, err
	}
	items := f.ItemsByFeed[feedURL]
	if options.Limit > 0 && len(items) > options.Limit {
		return items[:options.Limit], nil
	}
	return items, nil
}
