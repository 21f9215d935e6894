package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps history in a single-connection SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// serialises appends so concurrent completions never interleave
	mu sync.Mutex
}

var _ History = (*SQLiteStore)(nil)

// OpenSQLite opens or creates a SQLite database at the given path and ensures schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	// seq orders records by append; id is the job identifier.
	const ddl = `
CREATE TABLE IF NOT EXISTS history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT,
    filename TEXT,
    filepath TEXT,
    thumbnail TEXT,
    format_type TEXT,
    completed_at TEXT NOT NULL
);
`
	if _, err := db.Exec(ddl); err != nil {
		return err
	}
	// quality arrived after the first schema
	return ensureColumn(db, "history", "quality", "TEXT")
}

func ensureColumn(db *sql.DB, table, column, colType string) error {
	hasCol, err := hasColumn(db, table, column)
	if err != nil {
		return err
	}
	if hasCol {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, colType))
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the underlying DB.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append inserts rec as the newest record. The write is committed before returning.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO history (id, title, filename, filepath, thumbnail, format_type, quality, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Filename, rec.FilePath, rec.Thumbnail, rec.FormatType, rec.Quality,
		rec.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	return tx.Commit()
}

const selectColumns = `id, title, filename, filepath, thumbnail, format_type, quality, completed_at`

// List returns at most limit records, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM history ORDER BY seq DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FindByID returns the record stored for a job id.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM history WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec                                                   Record
		title, filename, filepath, thumb, formatType, quality sql.NullString
		completed                                             string
	)
	if err := sc.Scan(&rec.ID, &title, &filename, &filepath, &thumb, &formatType, &quality, &completed); err != nil {
		return Record{}, err
	}
	rec.Title = title.String
	rec.Filename = filename.String
	rec.FilePath = filepath.String
	rec.Thumbnail = thumb.String
	rec.FormatType = formatType.String
	rec.Quality = quality.String
	t, err := time.Parse(time.RFC3339Nano, completed)
	if err != nil {
		return Record{}, fmt.Errorf("%w: completed_at %q", ErrCorrupt, completed)
	}
	rec.CompletedAt = t
	return rec, nil
}
