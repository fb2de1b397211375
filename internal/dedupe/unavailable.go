package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// unavailableStore stands in for a store that could not be opened. The
// tracker keeps its history in memory for the life of the process.
type unavailableStore struct {
	driver   string
	location string
	err      error
}

func unavailable(driver, location string, err error, logger *slog.Logger) Store {
	logger.Error("notification store unavailable, history will not persist",
		"driver", driver,
		"location", location,
		"error", err,
	)
	return &unavailableStore{driver: driver, location: location, err: err}
}

func (s *unavailableStore) Load(ctx context.Context) (Set, error) {
	return Set{}, fmt.Errorf("%s store %s: %w", s.driver, s.location, s.err)
}

func (s *unavailableStore) Save(ctx context.Context, set Set) error {
	return fmt.Errorf("%s store %s: %w", s.driver, s.location, s.err)
}

func (s *unavailableStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	return fmt.Errorf("%s store %s: %w", s.driver, s.location, s.err)
}

func (s *unavailableStore) Info() StoreInfo {
	info := StoreInfo{Driver: s.driver, Location: s.location}
	if s.location != "" {
		_, err := os.Stat(s.location)
		info.Exists = err == nil
	}
	return info
}

func (s *unavailableStore) Close() error {
	return nil
}
