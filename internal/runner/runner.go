package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/retry"
)

var tracer = otel.Tracer("github.com/bakkerme/dealwatch/internal/runner")

// Config controls how a run treats failing sources and outputs.
type Config struct {
	// AllowPartialSourceErrors delivers whatever the healthy sources produced
	// when some sources fail. At least one source must still succeed.
	AllowPartialSourceErrors bool
	// Only restricts a run to the named sources.
	Only []string
	// Retry re-delivers an output whose Deliver failed. Each attempt passes
	// the same RunSummary, which alert outputs use to resend only the events
	// that failed.
	Retry retry.Config
}

type Runner struct {
	logger *slog.Logger
	cfg    Config

	// mu serialises runs; a cron tick and an API request must not overlap.
	mu      sync.Mutex
	stateMu sync.RWMutex
	lastRun *core.Run
}

func New(logger *slog.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, cfg: cfg}
}

func (r *Runner) Start(ctx context.Context, flow *core.Flow) error {
	if flow == nil {
		return fmt.Errorf("flow is required")
	}
	for _, trigger := range flow.Triggers {
		if trigger == nil {
			continue
		}
		events, err := trigger.Start(ctx, flow.ID)
		if err != nil {
			return err
		}
		go r.listen(ctx, flow, events)
	}
	return nil
}

const minProbeAttempts = 3

// Probe checks every output that supports it. Probes get at least
// minProbeAttempts attempts regardless of the retry config.
func (r *Runner) Probe(ctx context.Context, flow *core.Flow) error {
	if flow == nil {
		return fmt.Errorf("flow is required")
	}
	var errs []error
	for _, output := range flow.Outputs {
		prober, ok := output.(core.Prober)
		if !ok {
			continue
		}
		cfg := r.retryConfig(output.Name())
		if cfg.Attempts < minProbeAttempts {
			cfg.Attempts = minProbeAttempts
		}
		err := retry.Do(ctx, cfg, func() error {
			return prober.Probe(ctx)
		})
		if err != nil {
			r.logger.Error("output probe failed", "output", output.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		r.logger.Info("output probe ok", "output", output.Name())
	}
	return errors.Join(errs...)
}

func (r *Runner) RunOnce(ctx context.Context, flow *core.Flow) (*core.Run, error) {
	return r.run(ctx, flow, "manual")
}

// LastRun returns the most recent completed or failed run, if any.
func (r *Runner) LastRun() *core.Run {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.lastRun
}

func (r *Runner) run(ctx context.Context, flow *core.Flow, triggerType string) (*core.Run, error) {
	if flow == nil {
		return nil, fmt.Errorf("flow is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run := &core.Run{
		ID:          fmt.Sprintf("run-%d", time.Now().UnixNano()),
		FlowID:      flow.ID,
		StartedAt:   time.Now().UTC(),
		Status:      core.RunStatusRunning,
		TriggerType: triggerType,
		Metadata:    map[string]interface{}{},
	}
	logger := r.logger.With("flow_id", flow.ID, "run_id", run.ID)
	ctx = core.WithFlowID(ctx, flow.ID)
	ctx = core.WithRunID(ctx, run.ID)
	ctx = core.WithLogger(ctx, logger)
	ctx, span := tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("flow.id", flow.ID),
		attribute.String("run.id", run.ID),
		attribute.String("dealwatch.trigger", triggerType),
	))
	defer span.End()
	logger.Info("run started", "trigger", triggerType)

	err := r.execute(ctx, logger, flow, run)

	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	span.SetAttributes(attribute.Int("dealwatch.events", len(run.Events)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		run.Status = core.RunStatusFailed
		logger.Error("run failed", "duration", completedAt.Sub(run.StartedAt), "error", err)
	} else {
		run.Status = core.RunStatusCompleted
		logger.Info("run completed", "duration", completedAt.Sub(run.StartedAt), "events", len(run.Events))
	}

	r.stateMu.Lock()
	r.lastRun = run
	r.stateMu.Unlock()
	return run, err
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, flow *core.Flow, run *core.Run) error {
	sources, err := r.selectSources(flow)
	if err != nil {
		return err
	}

	fetched, results, sourceErr := r.fetchAll(ctx, logger, sources, run)
	summary := core.NewRunSummary(fetched, flow.Threshold)
	summary.Sources = results
	run.Summary = summary
	if sourceErr != nil {
		return sourceErr
	}

	events := fetched
	for _, filter := range flow.Filters {
		if filter == nil {
			continue
		}
		next, err := filter.Filter(ctx, events)
		if err != nil {
			r.recordError(run, filter.Name(), "filter", err)
			return fmt.Errorf("filter %s: %w", filter.Name(), err)
		}
		events = next
	}
	run.Events = events

	var outputErrs []error
	for _, output := range flow.Outputs {
		if output == nil {
			continue
		}
		err := retry.Do(ctx, r.retryConfig(output.Name()), func() error {
			return output.Deliver(ctx, events, summary)
		})
		if err != nil {
			r.recordError(run, output.Name(), "output", err)
			outputErrs = append(outputErrs, fmt.Errorf("output %s: %w", output.Name(), err))
		}
	}
	return errors.Join(outputErrs...)
}

func (r *Runner) fetchAll(ctx context.Context, logger *slog.Logger, sources []core.SourceProcessor, run *core.Run) ([]*core.DiscountEvent, []core.SourceResult, error) {
	var (
		events  []*core.DiscountEvent
		results []core.SourceResult
		failed  []error
	)
	for _, source := range sources {
		name := source.Name()
		start := time.Now()
		fetchCtx, span := tracer.Start(ctx, "source.fetch", trace.WithAttributes(attribute.String("dealwatch.source", name)))
		fetched, err := source.Fetch(fetchCtx)
		result := core.SourceResult{Name: name, Duration: time.Since(start)}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
		}
		span.SetAttributes(attribute.Int("dealwatch.events", len(fetched)))
		span.End()
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			r.recordError(run, name, "source", err)
			failed = append(failed, fmt.Errorf("source %s: %w", name, err))
			logger.Error("source failed", "source", name, "duration", result.Duration, "error", err)
			continue
		}
		for _, event := range fetched {
			if event != nil && event.Source == "" {
				event.Source = name
			}
		}
		result.OK = true
		result.Events = len(fetched)
		results = append(results, result)
		events = append(events, fetched...)
		logger.Info("source fetched", "source", name, "events", len(fetched), "duration", result.Duration)
	}

	switch {
	case len(failed) == 0:
		return events, results, nil
	case len(failed) == len(sources):
		return events, results, fmt.Errorf("all sources failed: %w", errors.Join(failed...))
	case r.cfg.AllowPartialSourceErrors:
		logger.Warn("continuing with partial source results", "failed", len(failed), "total", len(sources))
		return events, results, nil
	default:
		return events, results, errors.Join(failed...)
	}
}

func (r *Runner) selectSources(flow *core.Flow) ([]core.SourceProcessor, error) {
	var out []core.SourceProcessor
	allowed := map[string]bool{}
	for _, name := range r.cfg.Only {
		allowed[name] = true
	}
	for _, source := range flow.Sources {
		if source == nil {
			continue
		}
		if len(allowed) > 0 && !allowed[source.Name()] {
			continue
		}
		out = append(out, source)
	}
	if len(out) == 0 {
		if len(allowed) > 0 {
			return nil, fmt.Errorf("no sources match %v", r.cfg.Only)
		}
		return nil, fmt.Errorf("flow has no sources")
	}
	return out, nil
}

func (r *Runner) retryConfig(name string) retry.Config {
	cfg := r.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			r.logger.Warn("retrying", "processor", name, "attempt", attempt, "wait", wait, "error", err)
		}
	}
	return cfg
}

func (r *Runner) recordError(run *core.Run, name, stage string, err error) {
	run.Errors = append(run.Errors, core.ProcessError{
		ProcessorName: name,
		Stage:         stage,
		Error:         err.Error(),
		OccurredAt:    time.Now().UTC(),
	})
}

func (r *Runner) listen(ctx context.Context, flow *core.Flow, events <-chan core.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.logger.Info("trigger event", "flow_id", event.FlowID, "time", event.Timestamp)
			if _, err := r.run(ctx, flow, "cron"); err != nil {
				r.logger.Error("flow run failed", "error", err)
			}
		}
	}
}
