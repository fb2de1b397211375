package core

import (
	"context"
	"time"
)

type ProcessorType string

var TriggerProcessorType ProcessorType = "trigger_processor"
var SourceProcessorType ProcessorType = "source_processor"
var FilterProcessorType ProcessorType = "filter_processor"
var OutputProcessorType ProcessorType = "output_processor"

// Processor is the base interface that all processors must implement
type Processor interface {
	// Name returns the processor name
	Name() string
	// Configure sets up the processor with the provided configuration
	Configure(config map[string]interface{}) error
	// Validate checks if the processor configuration is valid
	Validate() error
}

type SnapshotConfig struct {
	Snapshot bool   `json:"snapshot" yaml:"snapshot"`
	Restore  bool   `json:"restore" yaml:"restore"`
	Path     string `json:"path" yaml:"path"`
}

// TriggerEvent represents a trigger firing
type TriggerEvent struct {
	FlowID    string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// TriggerProcessor defines when processing runs
type TriggerProcessor interface {
	Processor
	// Start begins the trigger and returns a channel of trigger events.
	// The processor manages its own lifecycle and sends events when triggered.
	Start(ctx context.Context, flowID string) (<-chan TriggerEvent, error)
	// Stop gracefully shuts down the trigger
	Stop() error
}

// SourceProcessor produces candidate discount events, typically one per retailer.
type SourceProcessor interface {
	Processor
	Fetch(ctx context.Context) ([]*DiscountEvent, error)
}

// FilterProcessor drops or keeps events ahead of delivery.
type FilterProcessor interface {
	Processor
	Filter(ctx context.Context, events []*DiscountEvent) ([]*DiscountEvent, error)
}

// OutputProcessor delivers results
type OutputProcessor interface {
	Processor
	// Deliver sends the filtered events to the configured output. The summary
	// covers every event fetched during the run, including those filtered out.
	Deliver(ctx context.Context, events []*DiscountEvent, summary *RunSummary) error
}

// DeliveryChannel performs the outbound notification call for a single event.
// Implementations carry no idempotency state.
type DeliveryChannel interface {
	Name() string
	Send(ctx context.Context, event *DiscountEvent) error
	SendSummary(ctx context.Context, summary *RunSummary) error
	// Probe sends a minimal test message to check connectivity.
	Probe(ctx context.Context) error
}

// Prober is implemented by outputs that can check their delivery channel ahead of a run.
type Prober interface {
	Probe(ctx context.Context) error
}
