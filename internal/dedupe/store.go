package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/fingerprint"
)

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"

	// DefaultPath is where the JSON store keeps its record when no path is configured.
	DefaultPath = "notifications_sent.json"
)

var ErrStoreClosed = errors.New("seen-set store is closed")

// Set maps each notified fingerprint to the time it was first recorded.
// A zero time means the entry predates first-seen tracking.
type Set map[fingerprint.Fingerprint]time.Time

// Has reports whether fp is in the set.
func (s Set) Has(fp fingerprint.Fingerprint) bool {
	_, ok := s[fp]
	return ok
}

// Add records fp, keeping an existing known first-seen time.
func (s Set) Add(fp fingerprint.Fingerprint, at time.Time) {
	if existing, ok := s[fp]; ok && !existing.IsZero() {
		return
	}
	s[fp] = at.UTC()
}

// Prune removes entries first seen before cutoff. Entries without a
// first-seen time are kept. It returns the number of entries removed.
func (s Set) Prune(cutoff time.Time) int {
	removed := 0
	for fp, seenAt := range s {
		if seenAt.IsZero() || !seenAt.Before(cutoff) {
			continue
		}
		delete(s, fp)
		removed++
	}
	return removed
}

// Sorted returns the fingerprints in lexical order.
func (s Set) Sorted() []fingerprint.Fingerprint {
	out := make([]fingerprint.Fingerprint, 0, len(s))
	for fp := range s {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for fp, seenAt := range s {
		out[fp] = seenAt
	}
	return out
}

// StoreInfo describes where a store keeps its data.
type StoreInfo struct {
	Driver   string `json:"driver"`
	Location string `json:"location"`
	Exists   bool   `json:"exists"`
}

// Store persists the seen-set between runs.
//
// Load returns an empty set and a nil error when nothing has been persisted
// yet. When persisted data cannot be decoded it returns an empty set together
// with the error, so callers can log and carry on.
//
// Save writes the full set. Stores are not safe for use by multiple
// processes at once; the last writer wins.
type Store interface {
	Load(ctx context.Context) (Set, error)
	Save(ctx context.Context, set Set) error
	// Cleanup drops entries first seen longer than retention ago.
	// A retention <= 0 disables cleanup.
	Cleanup(ctx context.Context, retention time.Duration) error
	Info() StoreInfo
	Close() error
}

// Options selects and configures a Store implementation.
type Options struct {
	Driver string
	// Path is a file for json, a DSN for sqlite and a directory for badger.
	Path  string
	Table string
}

// Open builds the store named by opts.Driver. An empty driver selects json.
// Only configuration mistakes are returned as errors: a sqlite or badger
// store that exists but cannot be opened yields a store that loads empty and
// reports the failure on every call, matching how a corrupt json file is
// handled.
func Open(opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", DriverJSON:
		path := opts.Path
		if strings.TrimSpace(path) == "" {
			path = DefaultPath
		}
		return NewJSONStore(path, logger), nil
	case DriverSQLite:
		path := opts.Path
		if strings.TrimSpace(path) == "" {
			path = "notifications_sent.db"
		}
		table := opts.Table
		if table == "" {
			table = defaultSQLiteTable
		}
		if _, err := quoteSQLiteIdentifier(table); err != nil {
			return nil, err
		}
		store, err := NewSQLiteStore(path, table)
		if err != nil {
			return unavailable(DriverSQLite, sqliteFilePath(path), err, logger), nil
		}
		return store, nil
	case DriverBadger:
		path := opts.Path
		if strings.TrimSpace(path) == "" {
			path = "notifications_sent.badger"
		}
		store, err := NewBadgerStore(path, logger)
		if err != nil {
			return unavailable(DriverBadger, path, err, logger), nil
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q (expected json, sqlite or badger)", opts.Driver)
	}
}
