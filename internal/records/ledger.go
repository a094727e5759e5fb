// Package records keeps side records of successful uploads: a local SQLite
// ledger that backs `filehub history`, and the platform's data store table.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/tonimelisma/filehub-go/internal/upload"
)

const (
	sqlInsertUpload = `INSERT INTO uploads (batch_id, file_name, file_id, file_size, uploaded_at)
		VALUES (?, ?, ?, ?, ?)`
	sqlRecentUploads = `SELECT id, batch_id, file_name, file_id, file_size, uploaded_at
		FROM uploads ORDER BY uploaded_at DESC, id DESC LIMIT ?`
	sqlCountUploads = `SELECT COUNT(*) FROM uploads`
)

// dirPerms is the permission for the ledger's parent directory.
const dirPerms = 0o700

// Entry is one ledger row.
type Entry struct {
	ID         int64     `json:"id"`
	BatchID    string    `json:"batch_id"`
	FileName   string    `json:"file_name"`
	FileID     string    `json:"file_id"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Ledger is the local upload history. It implements upload.Recorder.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLedger opens (creating if needed) the ledger database at path and
// applies migrations.
func OpenLedger(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return nil, fmt.Errorf("records: creating ledger directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("records: opening ledger %s: %w", path, err)
	}

	// Single writer: uploads are sequential anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("path", path))

	return &Ledger{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record implements upload.Recorder.
func (l *Ledger) Record(ctx context.Context, rec upload.Record) error {
	at := rec.UploadedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := l.db.ExecContext(ctx, sqlInsertUpload,
		rec.BatchID, rec.FileName, rec.FileID, rec.FileSize, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("records: inserting %s: %w", rec.FileName, err)
	}

	l.logger.Debug("ledger row added",
		slog.String("file_name", rec.FileName),
		slog.String("file_id", rec.FileID),
	)

	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, errors.New("records: limit must be positive")
	}

	rows, err := l.db.QueryContext(ctx, sqlRecentUploads, limit)
	if err != nil {
		return nil, fmt.Errorf("records: querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e  Entry
			ms int64
		)

		if err := rows.Scan(&e.ID, &e.BatchID, &e.FileName, &e.FileID, &e.FileSize, &ms); err != nil {
			return nil, fmt.Errorf("records: scanning history row: %w", err)
		}

		e.UploadedAt = time.UnixMilli(ms)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: iterating history rows: %w", err)
	}

	return entries, nil
}

// Count returns the number of ledger rows.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, sqlCountUploads).Scan(&n); err != nil {
		return 0, fmt.Errorf("records: counting uploads: %w", err)
	}

	return n, nil
}
