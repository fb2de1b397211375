package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bakkerme/dealwatch/internal/fingerprint"
)

// jsonRecord is the on-disk layout. first_seen is optional so records
// written without it still load.
type jsonRecord struct {
	SentNotifications []string             `json:"sent_notifications"`
	LastUpdated       string               `json:"last_updated"`
	FirstSeen         map[string]time.Time `json:"first_seen,omitempty"`
}

// JSONStore keeps the seen-set in a single JSON file that is rewritten in
// full on every save.
type JSONStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

func NewJSONStore(path string, logger *slog.Logger) *JSONStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONStore{path: path, logger: logger, now: time.Now}
}

func (s *JSONStore) Load(ctx context.Context) (Set, error) {
	_ = ctx
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no notification history found, starting fresh", "path", s.path)
			return Set{}, nil
		}
		return Set{}, fmt.Errorf("read notification history %s: %w", s.path, err)
	}

	var record jsonRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return Set{}, fmt.Errorf("decode notification history %s: %w", s.path, err)
	}

	set := make(Set, len(record.SentNotifications))
	for _, raw := range record.SentNotifications {
		fp := fingerprint.Fingerprint(raw)
		set[fp] = record.FirstSeen[raw]
	}
	return set, nil
}

func (s *JSONStore) Save(ctx context.Context, set Set) error {
	_ = ctx
	record := jsonRecord{
		SentNotifications: make([]string, 0, len(set)),
		LastUpdated:       s.now().UTC().Format(time.RFC3339Nano),
		FirstSeen:         map[string]time.Time{},
	}
	for _, fp := range set.Sorted() {
		record.SentNotifications = append(record.SentNotifications, fp.String())
		if seenAt := set[fp]; !seenAt.IsZero() {
			record.FirstSeen[fp.String()] = seenAt
		}
	}
	if len(record.FirstSeen) == 0 {
		record.FirstSeen = nil
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode notification history: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func (s *JSONStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	set, err := s.Load(ctx)
	if err != nil {
		return err
	}
	removed := set.Prune(s.now().Add(-retention))
	if removed == 0 {
		return nil
	}
	s.logger.Info("pruned notification history", "path", s.path, "removed", removed, "remaining", len(set))
	return s.Save(ctx, set)
}

func (s *JSONStore) Info() StoreInfo {
	_, err := os.Stat(s.path)
	return StoreInfo{Driver: DriverJSON, Location: s.path, Exists: err == nil}
}

func (s *JSONStore) Close() error {
	return nil
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partially written record.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp history file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}
