package snapshot

import (
	"context"

	"github.com/bakkerme/dealwatch/internal/core"
)

// SourceWrapper saves fetched events after a live fetch, or replays a saved
// snapshot instead of fetching.
type SourceWrapper struct {
	core.SourceProcessor
	cfg *core.SnapshotConfig
}

func (w *SourceWrapper) Fetch(ctx context.Context) ([]*core.DiscountEvent, error) {
	if w.cfg.Restore {
		payload, err := Load(w.cfg.Path)
		if err != nil {
			return nil, err
		}
		core.LoggerFromContext(ctx).Info("source restored from snapshot", "source", w.Name(), "path", w.cfg.Path, "events", len(payload.Events))
		return payload.Events, nil
	}
	events, err := w.SourceProcessor.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if w.cfg.Snapshot {
		if err := Save(w.cfg.Path, events, nil); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// OutputWrapper saves what an output is handed before delivering it, or
// delivers a saved snapshot in place of the live events.
type OutputWrapper struct {
	core.OutputProcessor
	cfg *core.SnapshotConfig
}

func (w *OutputWrapper) Deliver(ctx context.Context, events []*core.DiscountEvent, summary *core.RunSummary) error {
	if w.cfg.Restore {
		payload, err := Load(w.cfg.Path)
		if err != nil {
			return err
		}
		events = payload.Events
		if payload.Summary != nil {
			summary = payload.Summary
		}
	} else if w.cfg.Snapshot {
		if err := Save(w.cfg.Path, events, summary); err != nil {
			return err
		}
	}
	return w.OutputProcessor.Deliver(ctx, events, summary)
}

// Probe forwards to the wrapped output when it supports probing.
func (w *OutputWrapper) Probe(ctx context.Context) error {
	if p, ok := w.OutputProcessor.(core.Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}

func (w *OutputWrapper) Unwrap() core.OutputProcessor {
	return w.OutputProcessor
}

func active(cfg *core.SnapshotConfig) bool {
	return cfg != nil && (cfg.Snapshot || cfg.Restore)
}

func WrapSource(processor core.SourceProcessor, cfg *core.SnapshotConfig) core.SourceProcessor {
	if processor == nil || !active(cfg) {
		return processor
	}
	return &SourceWrapper{SourceProcessor: processor, cfg: cfg}
}

func WrapOutput(processor core.OutputProcessor, cfg *core.SnapshotConfig) core.OutputProcessor {
	if processor == nil || !active(cfg) {
		return processor
	}
	return &OutputWrapper{OutputProcessor: processor, cfg: cfg}
}

// Unwrap returns the processor beneath any snapshot wrapper.
func Unwrap(processor core.OutputProcessor) core.OutputProcessor {
	for {
		w, ok := processor.(interface{ Unwrap() core.OutputProcessor })
		if !ok {
			return processor
		}
		processor = w.Unwrap()
	}
}
