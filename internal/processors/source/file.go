package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/pricing"
)

// FileProcessor reads the product list an external scraper wrote to disk.
// The file holds a JSON array, or an object with an "events" or "products"
// array.
type FileProcessor struct {
	name   string
	config config.FileSource
	logger *slog.Logger
}

// fileRecord mirrors a scraped product. Timestamps may lack a zone and the
// discount may be absent, in which case it is derived from the prices.
type fileRecord struct {
	Name               string   `json:"name"`
	URL                string   `json:"url"`
	Retailer           string   `json:"retailer"`
	OriginalPrice      float64  `json:"original_price"`
	SalePrice          float64  `json:"sale_price"`
	DiscountPercentage *float64 `json:"discount_percentage"`
	ImageURL           string   `json:"image_url"`
	ScrapedAt          string   `json:"scraped_at"`
}

type fileEnvelope struct {
	Events   []fileRecord `json:"events"`
	Products []fileRecord `json:"products"`
}

var scrapedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func NewFileProcessor(cfg *config.FileSource, logger *slog.Logger) (*FileProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("file source config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProcessor{
		name:   nameOr(cfg.Name, "file"),
		config: *cfg,
		logger: logger,
	}, nil
}

func (p *FileProcessor) Name() string {
	return p.name
}

func (p *FileProcessor) Configure(config map[string]interface{}) error {
	if path, ok := config["path"].(string); ok {
		p.config.Path = path
	}
	return nil
}

func (p *FileProcessor) Validate() error {
	if p.config.Path == "" {
		return fmt.Errorf("file path is required")
	}
	return nil
}

func (p *FileProcessor) Fetch(ctx context.Context) ([]*core.DiscountEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := core.LoggerFromContext(ctx, p.logger).With("source", p.name)

	data, err := os.ReadFile(p.config.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.config.Path, err)
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.config.Path, err)
	}

	events := make([]*core.DiscountEvent, 0, len(records))
	invalid := 0
	for _, rec := range records {
		event, err := p.toEvent(rec)
		if err != nil {
			invalid++
			logger.Warn("skipping record", "name", rec.Name, "url", rec.URL, "error", err)
			continue
		}
		events = append(events, event)
	}
	logger.Info("file source loaded", "path", p.config.Path, "events", len(events), "invalid", invalid)
	return events, nil
}

func decodeRecords(data []byte) ([]fileRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var records []fileRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Events != nil {
		return env.Events, nil
	}
	return env.Products, nil
}

func (p *FileProcessor) toEvent(rec fileRecord) (*core.DiscountEvent, error) {
	if rec.URL == "" || rec.Name == "" {
		return nil, fmt.Errorf("url and name are required")
	}
	retailer := p.config.Retailer
	if retailer == "" {
		retailer = rec.Retailer
	}
	if retailer == "" {
		return nil, fmt.Errorf("retailer is required")
	}

	discount := pricing.CalculateDiscount(rec.OriginalPrice, rec.SalePrice)
	if rec.DiscountPercentage != nil {
		discount = *rec.DiscountPercentage
	}

	scrapedAt := time.Now().UTC()
	if rec.ScrapedAt != "" {
		parsed, err := parseScrapedAt(rec.ScrapedAt)
		if err != nil {
			return nil, err
		}
		scrapedAt = parsed
	}

	return &core.DiscountEvent{
		URL:                rec.URL,
		Retailer:           retailer,
		Name:               rec.Name,
		DiscountPercentage: discount,
		OriginalPrice:      rec.OriginalPrice,
		SalePrice:          rec.SalePrice,
		ImageURL:           rec.ImageURL,
		ScrapedAt:          scrapedAt,
		Source:             p.name,
	}, nil
}

// parseScrapedAt treats zone-less timestamps as local time.
func parseScrapedAt(raw string) (time.Time, error) {
	for _, layout := range scrapedAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised scraped_at %q", raw)
}
