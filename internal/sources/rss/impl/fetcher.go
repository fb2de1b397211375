package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/retry"
	"github.com/bakkerme/dealwatch/internal/sources/rss"
	"github.com/mmcdole/gofeed"
)

type Fetcher struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

func NewFetcher(timeout time.Duration, userAgent string, logger *slog.Logger) *Fetcher {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = userAgent
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{parser: parser, logger: logger}
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string, options rss.FetchOptions) ([]rss.Item, error) {
	parser := f.parser
	if options.UserAgent != "" && options.UserAgent != parser.UserAgent {
		clone := *parser
		clone.UserAgent = options.UserAgent
		parser = &clone
	}

	var feed *gofeed.Feed
	err := retry.Do(ctx, retry.Config{
		Attempts:  3,
		BaseDelay: 200 * time.Millisecond,
		Jitter:    100 * time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			f.logger.Warn("feed fetch failed, retrying", "feed", feedURL, "attempt", attempt, "wait", wait, "error", err)
		},
	}, func() error {
		parsed, err := parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			var httpErr gofeed.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	limit := options.Limit
	if limit <= 0 || limit > len(feed.Items) {
		limit = len(feed.Items)
	}

	items := make([]rss.Item, 0, limit)
	for _, entry := range feed.Items[:limit] {
		item := rss.Item{
			ID:          entry.GUID,
			Title:       strings.TrimSpace(entry.Title),
			Link:        entry.Link,
			Description: entry.Description,
			Content:     entry.Content,
			Categories:  entry.Categories,
			ImageURL:    entryImage(entry),
		}
		switch {
		case entry.PublishedParsed != nil:
			item.PublishedAt = *entry.PublishedParsed
		case entry.UpdatedParsed != nil:
			item.PublishedAt = *entry.UpdatedParsed
		default:
			item.PublishedAt = time.Now().UTC()
		}
		items = append(items, item)
	}
	return items, nil
}

func entryImage(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
