// Package dispatch decides, per discount event, whether to notify and records
// the outcome.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/tracker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultThreshold = 70.0

type Outcome string

const (
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeSent           Outcome = "sent"
	OutcomeFailed         Outcome = "failed"
)

// Config controls filtering and idempotency.
type Config struct {
	Threshold   float64
	Idempotency bool
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Idempotency: true}
}

// Result is the terminal state of one event.
type Result struct {
	Event   *core.DiscountEvent
	Outcome Outcome
	Err     error
}

// Report aggregates the results of one dispatch. Dropped counts events below
// the threshold; Considered counts the rest.
type Report struct {
	Considered int
	Dropped    int
	Sent       int
	Skipped    int
	Failed     int
	Results    []Result
}

// OK is false when any considered event failed delivery.
func (r Report) OK() bool {
	return r.Failed == 0
}

type Dispatcher struct {
	cfg     Config
	channel core.DeliveryChannel
	tracker *tracker.Tracker
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New builds a dispatcher. The tracker is required when idempotency is
// enabled and ignored otherwise.
func New(cfg Config, channel core.DeliveryChannel, tr *tracker.Tracker, logger *slog.Logger) (*Dispatcher, error) {
	if channel == nil {
		return nil, fmt.Errorf("delivery channel is required")
	}
	if cfg.Idempotency && tr == nil {
		return nil, fmt.Errorf("tracker is required when idempotency is enabled")
	}
	if !cfg.Idempotency {
		tr = nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:     cfg,
		channel: channel,
		tracker: tr,
		logger:  logger,
		tracer:  otel.Tracer("github.com/bakkerme/dealwatch/internal/dispatch"),
	}, nil
}

// Tracker returns the tracker in use, or nil when idempotency is disabled.
func (d *Dispatcher) Tracker() *tracker.Tracker {
	return d.tracker
}

// Dispatch reports whether every considered event ended sent or skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, events []*core.DiscountEvent) bool {
	return d.DispatchReport(ctx, events).OK()
}

// DispatchReport processes events in order. A failed delivery never stops the
// remaining events from being attempted, and an event is marked as sent only
// after its delivery succeeded.
func (d *Dispatcher) DispatchReport(ctx context.Context, events []*core.DiscountEvent) Report {
	logger := core.LoggerFromContext(ctx, d.logger).With("channel", d.channel.Name())
	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("dealwatch.channel", d.channel.Name()),
		attribute.Float64("dealwatch.threshold", d.cfg.Threshold),
		attribute.Bool("dealwatch.idempotency", d.cfg.Idempotency),
		attribute.Int("dealwatch.events", len(events)),
		attribute.String("flow.id", core.FlowIDFromContext(ctx)),
		attribute.String("run.id", core.RunIDFromContext(ctx)),
	))
	defer span.End()

	report := Report{Results: make([]Result, 0, len(events))}
	for _, event := range events {
		if event == nil {
			continue
		}
		if !event.IsHighDiscount(d.cfg.Threshold) {
			logger.Debug("below threshold, dropping", "name", event.Name, "retailer", event.Retailer, "discount", event.DiscountPercentage)
			report.Dropped++
			report.Results = append(report.Results, Result{Event: event, Outcome: OutcomeBelowThreshold})
			continue
		}
		report.Considered++

		result := d.deliver(ctx, logger, event)
		switch result.Outcome {
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeSent:
			report.Sent++
		case OutcomeFailed:
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	span.SetAttributes(
		attribute.Int("dealwatch.sent", report.Sent),
		attribute.Int("dealwatch.skipped", report.Skipped),
		attribute.Int("dealwatch.failed", report.Failed),
	)
	if !report.OK() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d deliveries failed", report.Failed))
	}
	logger.Info(
		"dispatch complete",
		"considered", report.Considered,
		"dropped", report.Dropped,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, logger *slog.Logger, event *core.DiscountEvent) Result {
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver", trace.WithAttributes(
		attribute.String("dealwatch.retailer", event.Retailer),
		attribute.Float64("dealwatch.discount", event.DiscountPercentage),
	))
	defer span.End()

	if d.tracker != nil && d.tracker.HasEventBeenSent(event) {
		logger.Info("already notified, skipping", "name", event.Name, "retailer", event.Retailer, "discount", event.DiscountPercentage)
		span.SetAttributes(attribute.String("dealwatch.outcome", string(OutcomeSkipped)))
		return Result{Event: event, Outcome: OutcomeSkipped}
	}

	if err := d.channel.Send(ctx, event); err != nil {
		logger.Error("delivery failed", "name", event.Name, "retailer", event.Retailer, "url", event.URL, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		span.SetAttributes(attribute.String("dealwatch.outcome", string(OutcomeFailed)))
		return Result{Event: event, Outcome: OutcomeFailed, Err: err}
	}

	if d.tracker != nil {
		d.tracker.MarkEventAsSent(ctx, event)
	}
	logger.Info("notification sent", "name", event.Name, "retailer", event.Retailer, "discount", event.DiscountPercentage)
	span.SetAttributes(attribute.String("dealwatch.outcome", string(OutcomeSent)))
	return Result{Event: event, Outcome: OutcomeSent}
}
