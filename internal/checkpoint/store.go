// Package checkpoint records which videos reached a terminal outcome so an
// interrupted collection resumes without refetching finished work.
//
// Two backends share the Store contract: plain text files (one identifier per
// line in completed.txt and failed.txt) and a SQLite database. Every mark is
// durable before the call returns.
package checkpoint

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	// ErrCorrupt marks a ledger that could not be parsed. Load recovers from
	// it by starting empty.
	ErrCorrupt = errors.New("checkpoint ledger corrupt")
	// ErrUnavailable marks storage that cannot be read or written at all.
	ErrUnavailable = errors.New("checkpoint storage unavailable")
	// ErrConflict is returned when an id would end up in both terminal sets.
	ErrConflict = errors.New("checkpoint conflict")
)

const (
	BackendText   = "text"
	BackendSQLite = "sqlite"

	CompletedFile = "completed.txt"
	FailedFile    = "failed.txt"
	SQLiteFile    = "ledger.db"
)

type Store interface {
	Load(ctx context.Context) (*Ledger, error)
	// Inspect reads the ledger without creating, repairing or moving
	// anything, so it is safe while another process runs a collection.
	Inspect(ctx context.Context) (*Ledger, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// ResetFailed returns failed ids to pending. A nil slice resets every
	// failed id.
	ResetFailed(ctx context.Context, ids []string) (int, error)
	Close() error
}

// Open builds the store for backend rooted at progressDir.
func Open(backend, progressDir string, logger *zap.SugaredLogger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendText:
		return NewTextStore(progressDir, logger), nil
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(progressDir, SQLiteFile), logger), nil
	default:
		return nil, errors.Newf("unknown checkpoint backend %q (expected %s or %s)", backend, BackendText, BackendSQLite)
	}
}

func unavailable(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, "checkpoint storage unavailable: "+format, args...), ErrUnavailable)
}

func corruptSuffix(ts string) string {
	return ".corrupt-" + ts
}
