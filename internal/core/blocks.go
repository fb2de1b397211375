package core

import (
	"time"
)

// DiscountEvent is one product observation produced by a source. It carries
// the identifying attributes used for idempotency and the display attributes
// used to render a notification.
type DiscountEvent struct {
	URL                string    `json:"url" yaml:"url"`
	Retailer           string    `json:"retailer" yaml:"retailer"`
	Name               string    `json:"name" yaml:"name"`
	DiscountPercentage float64   `json:"discount_percentage" yaml:"discount_percentage"`
	OriginalPrice      float64   `json:"original_price" yaml:"original_price"`
	SalePrice          float64   `json:"sale_price" yaml:"sale_price"`
	ImageURL           string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	ScrapedAt          time.Time `json:"scraped_at" yaml:"scraped_at"`
	Source             string    `json:"source,omitempty" yaml:"source,omitempty"`
}

// Savings is the absolute difference between the original and sale price.
func (e *DiscountEvent) Savings() float64 {
	return e.OriginalPrice - e.SalePrice
}

// IsHighDiscount reports whether the event meets the given percentage threshold.
func (e *DiscountEvent) IsHighDiscount(threshold float64) bool {
	return e.DiscountPercentage >= threshold
}

// ProcessError tracks errors that occur during processing
type ProcessError struct {
	ProcessorName string    `json:"processor_name" yaml:"processor_name"`
	Stage         string    `json:"stage" yaml:"stage"` // "trigger", "source", "filter", "output"
	Error         string    `json:"error" yaml:"error"`
	OccurredAt    time.Time `json:"occurred_at" yaml:"occurred_at"`
}

// SourceResult records how a single source fared during a run.
type SourceResult struct {
	Name     string        `json:"name" yaml:"name"`
	OK       bool          `json:"ok" yaml:"ok"`
	Events   int           `json:"events" yaml:"events"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunSummary is the aggregate report for a run. It is delivered as-is and is
// never subject to idempotency checks.
type RunSummary struct {
	ProductsChecked  int            `json:"products_checked" yaml:"products_checked"`
	HighDiscounts    int            `json:"high_discounts" yaml:"high_discounts"`
	RetailersChecked []string       `json:"retailers_checked" yaml:"retailers_checked"`
	Sources          []SourceResult `json:"sources,omitempty" yaml:"sources,omitempty"`
	ProcessedAt      time.Time      `json:"processed_at" yaml:"processed_at"`
}

// NewRunSummary counts events at or above threshold and collects the distinct
// retailers in first-seen order.
func NewRunSummary(events []*DiscountEvent, threshold float64) *RunSummary {
	summary := &RunSummary{
		ProductsChecked: len(events),
		ProcessedAt:     time.Now().UTC(),
	}
	seen := map[string]bool{}
	for _, event := range events {
		if event == nil {
			continue
		}
		if event.IsHighDiscount(threshold) {
			summary.HighDiscounts++
		}
		if event.Retailer != "" && !seen[event.Retailer] {
			seen[event.Retailer] = true
			summary.RetailersChecked = append(summary.RetailersChecked, event.Retailer)
		}
	}
	return summary
}
