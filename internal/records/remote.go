package records

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/filehub-go/internal/hub"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

// RowInserter appends rows to a data store table. Satisfied by *hub.Client.
type RowInserter interface {
	InsertRows(ctx context.Context, tableID string, rows []hub.Row) error
}

// Table records uploads as rows in the platform's data store.
type Table struct {
	client  RowInserter
	tableID string
}

// NewTable returns a Table recorder, or nil when tableID is empty.
func NewTable(client RowInserter, tableID string) *Table {
	if tableID == "" {
		return nil
	}

	return &Table{client: client, tableID: tableID}
}

// Record implements upload.Recorder.
func (t *Table) Record(ctx context.Context, rec upload.Record) error {
	return t.client.InsertRows(ctx, t.tableID, []hub.Row{{
		FileName: rec.FileName,
		FileID:   rec.FileID,
		FileSize: rec.FileSize,
	}})
}

// Multi fans a record out to several recorders. Every recorder is tried;
// failures are joined.
type Multi struct {
	recorders []upload.Recorder
	logger    *slog.Logger
}

// NewMulti combines recorders, skipping nil ones. It returns nil when none
// remain.
func NewMulti(logger *slog.Logger, recorders ...upload.Recorder) *Multi {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Multi{logger: logger}

	for _, r := range recorders {
		if isNil(r) {
			continue
		}

		m.recorders = append(m.recorders, r)
	}

	if len(m.recorders) == 0 {
		return nil
	}

	return m
}

// Record implements upload.Recorder. A nil Multi records nothing.
func (m *Multi) Record(ctx context.Context, rec upload.Record) error {
	if m == nil {
		return nil
	}

	var errs []error

	for _, r := range m.recorders {
		if err := r.Record(ctx, rec); err != nil {
			m.logger.Debug("recorder failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// isNil catches typed nil pointers from constructors that return nil.
func isNil(r upload.Recorder) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *Table:
		return v == nil
	case *Ledger:
		return v == nil
	case *Multi:
		return v == nil
	default:
		return false
	}
}
