// Package historylog is a read-only-after-the-fact audit trail of
// terminated upload sessions, backed by an embedded SQLite database
// (mirrors the teacher's internal/sync state/migrations shape, repurposed
// from multi-file sync state to single-session terminal outcomes).
//
// This is deliberately NOT the session-resume mechanism the spec's
// Non-goals exclude: it stores only the final record of a session after
// it reaches Completed/Failed/Cancelled, never an in-flight chunk plan or
// upload_id, and nothing here is read back into a live Controller.
package historylog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/chunkuploader/engine/internal/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one terminal session outcome.
type Record struct {
	ID            string
	Filename      string
	TotalSize     int64
	ProviderKind  string
	Status        string
	ErrorKind     string
	ErrorMessage  string
	FinalLocation string
	StartTime     string
	EndTime       string
	RecordedAt    string
}

// Store is the append-only, query-only sqlite-backed history log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the history database at dbPath and
// applies any pending migrations. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("historylog: opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("historylog: setting WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("historylog: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("historylog: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("historylog: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("historylog: applied migration", slog.String("source", r.Source.Path))
	}

	return nil
}

// RecordTerminal implements session.HistoryRecorder: it inserts (or
// replaces, if the session ID somehow recurs) one row per finished
// session.
func (s *Store) RecordTerminal(ctx context.Context, snap session.Snapshot) error {
	var errKind, errMessage string
	if snap.Err != nil {
		errKind = snap.Err.Kind.String()
		errMessage = snap.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, filename, total_size, provider_kind, status, error_kind, error_message,
			 final_location, start_time, end_time, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		snap.ID, snap.Filename, snap.TotalSize, string(snap.ProviderKind), snap.Status.String(), errKind, errMessage,
		snap.FinalLocation, snap.StartTime.UTC().Format(timeLayout), snap.EndTime.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("historylog: recording session %s: %w", snap.ID, err)
	}

	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Recent returns the most recently recorded sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, total_size, provider_kind, status, error_kind, error_message,
		       final_location, start_time, end_time, recorded_at
		FROM sessions
		ORDER BY recorded_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("historylog: querying recent sessions: %w", err)
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var r Record

		if err := rows.Scan(
			&r.ID, &r.Filename, &r.TotalSize, &r.ProviderKind, &r.Status, &r.ErrorKind, &r.ErrorMessage,
			&r.FinalLocation, &r.StartTime, &r.EndTime, &r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("historylog: scanning row: %w", err)
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// ByID looks up a single terminal record.
func (s *Store) ByID(ctx context.Context, id string) (Record, error) {
	var r Record

	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, total_size, provider_kind, status, error_kind, error_message,
		       final_location, start_time, end_time, recorded_at
		FROM sessions WHERE id = ?`, id)

	err := row.Scan(
		&r.ID, &r.Filename, &r.TotalSize, &r.ProviderKind, &r.Status, &r.ErrorKind, &r.ErrorMessage,
		&r.FinalLocation, &r.StartTime, &r.EndTime, &r.RecordedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("historylog: looking up session %s: %w", id, err)
	}

	return r, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
