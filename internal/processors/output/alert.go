package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/dispatch"
	"github.com/bakkerme/dealwatch/internal/tracker"
)

// AlertOptions configures an AlertProcessor.
type AlertOptions struct {
	Name      string
	Summary   bool
	Probe     bool
	Retention time.Duration
}

// AlertProcessor is the output stage for a delivery channel: it hands the
// run's events to a dispatcher and, when enabled, follows up with the run
// summary.
type AlertProcessor struct {
	name       string
	channel    core.DeliveryChannel
	dispatcher *dispatch.Dispatcher
	opts       AlertOptions
	logger     *slog.Logger

	mu          sync.Mutex
	lastReport  *dispatch.Report
	lastSummary *core.RunSummary
	// failed holds the events whose delivery failed for failedFor, so a
	// repeated Deliver for the same run resends only those.
	failedFor *core.RunSummary
	failed    []*core.DiscountEvent
}

func NewAlertProcessor(channel core.DeliveryChannel, dispatcher *dispatch.Dispatcher, opts AlertOptions, logger *slog.Logger) (*AlertProcessor, error) {
	if channel == nil {
		return nil, fmt.Errorf("delivery channel is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertProcessor{
		name:       nameOr(opts.Name, channel.Name()),
		channel:    channel,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}, nil
}

func (p *AlertProcessor) Name() string {
	return p.name
}

func (p *AlertProcessor) Configure(config map[string]interface{}) error {
	return nil
}

func (p *AlertProcessor) Validate() error {
	if p.channel == nil || p.dispatcher == nil {
		return fmt.Errorf("alert output %s is not configured", p.name)
	}
	return nil
}

// Deliver dispatches events and then sends the summary. Calling Deliver again
// with the same RunSummary is treated as a retry of that run: only the events
// that failed last time are dispatched, and the summary is not resent once
// it went out. This holds with idempotency disabled too.
func (p *AlertProcessor) Deliver(ctx context.Context, events []*core.DiscountEvent, summary *core.RunSummary) error {
	logger := core.LoggerFromContext(ctx, p.logger).With("output", p.name)

	if tr := p.dispatcher.Tracker(); tr != nil && p.opts.Retention > 0 {
		if err := tr.Cleanup(ctx, p.opts.Retention); err != nil {
			logger.Warn("notification history cleanup failed", "error", err)
		}
	}

	if pending, ok := p.retryEvents(summary); ok {
		logger.Info("retrying failed deliveries", "events", len(pending))
		events = pending
	}

	report := p.dispatcher.DispatchReport(core.WithLogger(ctx, logger), events)
	p.rememberFailures(summary, report)

	var summaryErr error
	if p.opts.Summary && summary != nil && !p.summarySent(summary) {
		if err := p.channel.SendSummary(ctx, summary); err != nil {
			logger.Error("summary delivery failed", "error", err)
			summaryErr = err
		} else {
			p.mu.Lock()
			p.lastSummary = summary
			p.mu.Unlock()
			logger.Info("summary sent", "products", summary.ProductsChecked, "high_discounts", summary.HighDiscounts)
		}
	}

	p.mu.Lock()
	p.lastReport = &report
	p.mu.Unlock()

	if !report.OK() {
		return fmt.Errorf("%s: %d of %d deliveries failed", p.name, report.Failed, report.Considered)
	}
	if summaryErr != nil {
		return fmt.Errorf("%s: send summary: %w", p.name, summaryErr)
	}
	return nil
}

// Probe checks the channel when probing is enabled for this output.
func (p *AlertProcessor) Probe(ctx context.Context) error {
	if !p.opts.Probe {
		return nil
	}
	if err := p.channel.Probe(ctx); err != nil {
		return fmt.Errorf("%s: probe: %w", p.name, err)
	}
	return nil
}

// Stats returns the tracker state, or false when idempotency is disabled.
func (p *AlertProcessor) Stats() (tracker.Stats, bool) {
	tr := p.dispatcher.Tracker()
	if tr == nil {
		return tracker.Stats{}, false
	}
	return tr.Stats(), true
}

// LastReport returns the report of the most recent Deliver call.
func (p *AlertProcessor) LastReport() (dispatch.Report, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastReport == nil {
		return dispatch.Report{}, false
	}
	return *p.lastReport, true
}

func (p *AlertProcessor) Close() error {
	if tr := p.dispatcher.Tracker(); tr != nil {
		return tr.Close()
	}
	return nil
}

func (p *AlertProcessor) retryEvents(summary *core.RunSummary) ([]*core.DiscountEvent, bool) {
	if summary == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failedFor != summary {
		return nil, false
	}
	return p.failed, true
}

func (p *AlertProcessor) rememberFailures(summary *core.RunSummary, report dispatch.Report) {
	var failed []*core.DiscountEvent
	for _, result := range report.Results {
		if result.Outcome == dispatch.OutcomeFailed {
			failed = append(failed, result.Event)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedFor = summary
	p.failed = failed
}

func (p *AlertProcessor) summarySent(summary *core.RunSummary) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSummary == summary
}
