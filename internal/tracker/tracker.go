// Package tracker records which discount events have already been announced.
//
// A Tracker loads its seen-set once at construction and persists it after
// every mark. Two processes sharing one store can both announce the same
// event; the last save wins.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/dedupe"
	"github.com/bakkerme/dealwatch/internal/fingerprint"
)

// Stats is a read-only view of the tracker's state.
type Stats struct {
	Count       int    `json:"count"`
	Store       string `json:"store"`
	StoreExists bool   `json:"store_exists"`
	Driver      string `json:"driver"`
}

type Tracker struct {
	mu     sync.RWMutex
	store  dedupe.Store
	seen   dedupe.Set
	logger *slog.Logger
	now    func() time.Time
}

// New loads the seen-set from store. A load failure is logged and the
// tracker starts empty.
func New(ctx context.Context, store dedupe.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:  store,
		seen:   dedupe.Set{},
		logger: logger,
		now:    time.Now,
	}
	if store == nil {
		return t
	}
	seen, err := store.Load(ctx)
	if err != nil {
		info := store.Info()
		logger.Error("failed to load notification history, starting empty", "driver", info.Driver, "location", info.Location, "error", err)
	}
	if seen != nil {
		t.seen = seen
	}
	logger.Info("notification tracker ready", "sent", len(t.seen))
	return t
}

// HasBeenSent reports whether fingerprint-equal inputs were marked in this
// or a previous run.
func (t *Tracker) HasBeenSent(url, retailer string, discount float64, name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen.Has(fingerprint.Of(url, retailer, discount, name))
}

// MarkAsSent records the event and saves the seen-set immediately. A save
// failure is logged; the in-memory set stays authoritative for this process.
func (t *Tracker) MarkAsSent(ctx context.Context, url, retailer string, discount float64, name string) {
	fp := fingerprint.Of(url, retailer, discount, name)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen.Add(fp, t.now())
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, t.seen); err != nil {
		core.LoggerFromContext(ctx, t.logger).Error("failed to persist notification history", "fingerprint", fp.String(), "error", err)
	}
}

// HasEventBeenSent is HasBeenSent for an event.
func (t *Tracker) HasEventBeenSent(event *core.DiscountEvent) bool {
	return t.HasBeenSent(event.URL, event.Retailer, event.DiscountPercentage, event.Name)
}

// MarkEventAsSent is MarkAsSent for an event.
func (t *Tracker) MarkEventAsSent(ctx context.Context, event *core.DiscountEvent) {
	t.MarkAsSent(ctx, event.URL, event.Retailer, event.DiscountPercentage, event.Name)
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := Stats{Count: len(t.seen)}
	if t.store != nil {
		info := t.store.Info()
		stats.Store = info.Location
		stats.StoreExists = info.Exists
		stats.Driver = info.Driver
	}
	return stats
}

// Cleanup prunes entries older than retention from memory and from the store.
func (t *Tracker) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := t.seen.Prune(t.now().Add(-retention))
	if t.store == nil {
		return nil
	}
	if err := t.store.Cleanup(ctx, retention); err != nil {
		return err
	}
	if removed > 0 {
		core.LoggerFromContext(ctx, t.logger).Info("notification history cleaned up", "removed", removed, "remaining", len(t.seen))
	}
	return nil
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}
