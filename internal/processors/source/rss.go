package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/pricing"
	"github.com/bakkerme/dealwatch/internal/sources/rss"
)

// RSSProcessor turns deal feed entries into discount events. Entries without
// both an original and a sale price are skipped.
type RSSProcessor struct {
	name    string
	config  config.RSSSource
	fetcher rss.Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

func NewRSSProcessor(cfg *config.RSSSource, fetcher rss.Fetcher, logger *slog.Logger) (*RSSProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rss config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSProcessor{
		name:    nameOr(cfg.Name, "rss"),
		config:  *cfg,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (p *RSSProcessor) Name() string {
	return p.name
}

func (p *RSSProcessor) Configure(config map[string]interface{}) error {
	return nil
}

func (p *RSSProcessor) Validate() error {
	if len(p.config.Feeds) == 0 {
		return fmt.Errorf("at least one rss feed is required")
	}
	if p.fetcher == nil {
		return fmt.Errorf("rss fetcher is required")
	}
	return nil
}

func (p *RSSProcessor) Fetch(ctx context.Context) ([]*core.DiscountEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := core.LoggerFromContext(ctx, p.logger).With("source", p.name)

	options := rss.FetchOptions{
		Limit:     p.config.Limit,
		UserAgent: p.config.UserAgent,
	}

	var events []*core.DiscountEvent
	seen := map[string]bool{}
	for _, feedURL := range p.config.Feeds {
		items, err := p.fetcher.Fetch(ctx, feedURL, options)
		if err != nil {
			return nil, err
		}
		skipped := 0
		for _, item := range items {
			if item.Link == "" || seen[item.Link] {
				continue
			}
			seen[item.Link] = true

			event, ok := p.toEvent(item)
			if !ok {
				skipped++
				continue
			}
			events = append(events, event)
		}
		logger.Info("feed processed", "feed", feedURL, "items", len(items), "skipped", skipped)
	}
	return events, nil
}

func (p *RSSProcessor) toEvent(item rss.Item) (*core.DiscountEvent, bool) {
	body := item.Content
	if body == "" {
		body = item.Description
	}
	prices := pricing.ExtractPrices(item.Title + " " + rss.PlainText(body))
	original, sale, ok := pricing.SalePair(prices)
	if !ok {
		return nil, false
	}

	image := item.ImageURL
	if image == "" {
		image = rss.FirstImage(body)
	}
	return &core.DiscountEvent{
		URL:                item.Link,
		Retailer:           p.retailerFor(item.Link),
		Name:               item.Title,
		DiscountPercentage: pricing.CalculateDiscount(original, sale),
		OriginalPrice:      original,
		SalePrice:          sale,
		ImageURL:           image,
		ScrapedAt:          p.now(),
		Source:             p.name,
	}, true
}

func (p *RSSProcessor) retailerFor(link string) string {
	if p.config.Retailer != "" {
		return p.config.Retailer
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return p.name
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
