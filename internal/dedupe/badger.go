package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bakkerme/dealwatch/internal/fingerprint"
	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "seen/"

type badgerEntry struct {
	FirstSeen *time.Time `json:"first_seen,omitempty"`
}

// BadgerStore keeps one key per fingerprint under the seen/ prefix.
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

func NewBadgerStore(path string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, path: path, logger: logger, now: time.Now}, nil
}

// Load reads every seen/ key. Values that fail to decode are kept with a
// zero first-seen time so one bad entry never hides the rest.
func (s *BadgerStore) Load(ctx context.Context) (Set, error) {
	_ = ctx
	if s.db == nil {
		return Set{}, ErrStoreClosed
	}
	set := Set{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			fp := fingerprint.Fingerprint(item.Key()[len(prefix):])
			seenAt, err := decodeBadgerEntry(item)
			if err != nil {
				s.logger.Warn("undecodable badger entry, keeping without first-seen", "key", string(item.Key()), "error", err)
			}
			set[fp] = seenAt
		}
		return nil
	})
	if err != nil {
		return Set{}, fmt.Errorf("read badger history: %w", err)
	}
	return set, nil
}

// Save writes every fingerprint in set. Keys that already carry a readable
// first-seen time are left untouched; unreadable ones are overwritten.
func (s *BadgerStore) Save(ctx context.Context, set Set) error {
	_ = ctx
	if s.db == nil {
		return ErrStoreClosed
	}

	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, fp := range set.Sorted() {
		key := []byte(badgerKeyPrefix + fp.String())
		known, err := hasFirstSeen(txn, key)
		if err != nil {
			return err
		}
		if known {
			continue
		}
		entry := badgerEntry{}
		if seenAt := set[fp]; !seenAt.IsZero() {
			entry.FirstSeen = &seenAt
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode badger entry: %w", err)
		}
		err = txn.Set(key, data)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return fmt.Errorf("commit badger history: %w", err)
			}
			txn = s.db.NewTransaction(true)
			err = txn.Set(key, data)
		}
		if err != nil {
			return fmt.Errorf("write badger entry: %w", err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit badger history: %w", err)
	}
	return nil
}

func (s *BadgerStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	set, err := s.Load(ctx)
	if err != nil {
		return err
	}
	cutoff := s.now().Add(-retention)

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for fp, seenAt := range set {
		if seenAt.IsZero() || !seenAt.Before(cutoff) {
			continue
		}
		if err := wb.Delete([]byte(badgerKeyPrefix + fp.String())); err != nil {
			return fmt.Errorf("delete badger entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush badger cleanup: %w", err)
	}
	return nil
}

func (s *BadgerStore) Info() StoreInfo {
	_, err := os.Stat(s.path)
	return StoreInfo{Driver: DriverBadger, Location: s.path, Exists: err == nil}
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func decodeBadgerEntry(item *badger.Item) (time.Time, error) {
	var entry badgerEntry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return time.Time{}, err
	}
	if entry.FirstSeen == nil {
		return time.Time{}, nil
	}
	return entry.FirstSeen.UTC(), nil
}

// hasFirstSeen reports whether key exists with a decodable first-seen time.
func hasFirstSeen(txn *badger.Txn, key []byte) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read badger entry: %w", err)
	}
	seenAt, err := decodeBadgerEntry(item)
	if err != nil {
		return false, nil
	}
	return !seenAt.IsZero(), nil
}
