package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/fingerprint"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLiteTable = "sent_notifications"
)

// SQLiteStore keeps one row per fingerprint. first_seen holds unix
// nanoseconds and is NULL for entries without a known first-seen time.
type SQLiteStore struct {
	db         *sql.DB
	dsn        string
	table      string
	tableIdent string
	now        func() time.Time
}

func NewSQLiteStore(dsn string, table string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if table == "" {
		table = defaultSQLiteTable
	}
	tableIdent, err := quoteSQLiteIdentifier(table)
	if err != nil {
		return nil, err
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{
		db:         db,
		dsn:        dsn,
		table:      table,
		tableIdent: tableIdent,
		now:        time.Now,
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Set, error) {
	if s.db == nil {
		return Set{}, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id, first_seen FROM %s", s.tableIdent))
	if err != nil {
		return Set{}, fmt.Errorf("query sqlite history: %w", err)
	}
	defer rows.Close()

	set := Set{}
	for rows.Next() {
		var id string
		var firstSeen sql.NullInt64
		if err := rows.Scan(&id, &firstSeen); err != nil {
			return Set{}, fmt.Errorf("scan sqlite history: %w", err)
		}
		var seenAt time.Time
		if firstSeen.Valid {
			seenAt = time.Unix(0, firstSeen.Int64).UTC()
		}
		set[fingerprint.Fingerprint(id)] = seenAt
	}
	if err := rows.Err(); err != nil {
		return Set{}, fmt.Errorf("iterate sqlite history: %w", err)
	}
	return set, nil
}

// Save inserts every fingerprint in set. Existing rows keep their first_seen
// value, and rows missing from set are left in place.
func (s *SQLiteStore) Save(ctx context.Context, set Set) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if len(set) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (id, first_seen) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET first_seen = COALESCE(first_seen, excluded.first_seen)`, s.tableIdent),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, fp := range set.Sorted() {
		var firstSeen interface{}
		if seenAt := set[fp]; !seenAt.IsZero() {
			firstSeen = seenAt.UnixNano()
		}
		if _, err := stmt.ExecContext(ctx, fp.String(), firstSeen); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if s.db == nil {
		return ErrStoreClosed
	}
	cutoff := s.now().Add(-retention).UnixNano()
	_, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf("DELETE FROM %s WHERE first_seen IS NOT NULL AND first_seen < ?", s.tableIdent),
		cutoff,
	)
	if err != nil {
		return fmt.Errorf("prune sqlite history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Info() StoreInfo {
	info := StoreInfo{Driver: DriverSQLite, Location: s.dsn}
	path := sqliteFilePath(s.dsn)
	if path == "" {
		info.Exists = s.db != nil
		return info
	}
	_, err := os.Stat(path)
	info.Exists = err == nil
	return info
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if s.table == "" {
		return fmt.Errorf("sqlite table name is required")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		first_seen INTEGER
	)`, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sqlite table: %w", err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_first_seen_idx ON %s (first_seen)", s.table, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create sqlite index: %w", err)
	}
	return nil
}

// sqliteFilePath strips the file: prefix and query string from dsn. It
// returns "" for in-memory databases.
func sqliteFilePath(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == "" || dsn == ":memory:" {
		return ""
	}
	return dsn
}

func ensureSQLiteDir(dsn string) error {
	path := sqliteFilePath(dsn)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var sqliteIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteSQLiteIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("sqlite table name is required")
	}
	if !sqliteIdentifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("sqlite table name %q must match %s", identifier, sqliteIdentifierPattern.String())
	}
	return `"` + identifier + `"`, nil
}
