package checkpoint

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/runstore"
)

const ledgerSchema = `CREATE TABLE IF NOT EXISTS ledger (
	identifier TEXT PRIMARY KEY,
	state      TEXT NOT NULL CHECK (state IN ('completed', 'failed')),
	marked_at  TEXT NOT NULL
)`

// SQLiteStore keeps the ledger in a single table. Each mark is its own
// committed transaction with synchronous=FULL.
type SQLiteStore struct {
	path   string
	logger *zap.SugaredLogger
	now    func() time.Time

	db *sql.DB
}

func NewSQLiteStore(path string, logger *zap.SugaredLogger) *SQLiteStore {
	return &SQLiteStore{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

func (s *SQLiteStore) Load(ctx context.Context) (*Ledger, error) {
	if err := runstore.Mkdir(filepath.Dir(s.path)); err != nil {
		return nil, unavailable(err, "%s", filepath.Dir(s.path))
	}

	ledger, err := s.open(ctx)
	if err == nil {
		return ledger, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, err
	}

	s.closeDB()
	suffix := corruptSuffix(s.now().UTC().Format("20060102T150405Z"))
	for _, p := range []string{s.path, s.path + "-journal", s.path + "-wal", s.path + "-shm"} {
		moved, mvErr := runstore.MoveAside(p, suffix)
		if mvErr != nil {
			return nil, unavailable(mvErr, "%s", p)
		}
		if moved != "" {
			s.logger.Warnw("discarded corrupt checkpoint database", "file", p, "moved_to", moved)
		}
	}
	s.logger.Warnw("checkpoint ledger corrupt; starting empty, finished videos will be fetched again",
		"path", s.path, "error", err)

	ledger, reopenErr := s.open(ctx)
	if reopenErr != nil {
		return nil, unavailable(reopenErr, "reopen %s", s.path)
	}
	ledger.recovered = err
	return ledger, nil
}

func (s *SQLiteStore) open(ctx context.Context) (*Ledger, error) {
	if s.db == nil {
		dsn := "file:" + s.path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, unavailable(err, "open %s", s.path)
		}
		db.SetMaxOpenConns(1) // SQLite: single writer
		s.db = db
	}
	return s.readLedger(ctx, s.db, true)
}

// Inspect reads the database read-only. It creates nothing, and a corrupt
// database comes back as an empty ledger with Recovered set.
func (s *SQLiteStore) Inspect(ctx context.Context) (*Ledger, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return NewLedger(), nil
		}
		return nil, unavailable(err, "stat %s", s.path)
	}
	db, err := sql.Open("sqlite", "file:"+s.path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, unavailable(err, "open %s", s.path)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ledger, err := s.readLedger(ctx, db, false)
	if errors.Is(err, ErrCorrupt) {
		ledger = NewLedger()
		ledger.recovered = err
		return ledger, nil
	}
	return ledger, err
}

func (s *SQLiteStore) readLedger(ctx context.Context, db *sql.DB, createSchema bool) (*Ledger, error) {
	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return nil, s.classify(err, "integrity check")
	}
	if check != "ok" {
		return nil, errors.Mark(errors.Newf("integrity check of %s: %s", s.path, check), ErrCorrupt)
	}
	if createSchema {
		if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
			return nil, s.classify(err, "create schema")
		}
	} else {
		var tables int
		if err := db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'ledger'`).Scan(&tables); err != nil {
			return nil, s.classify(err, "look up ledger table")
		}
		if tables == 0 {
			return NewLedger(), nil
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT identifier, state FROM ledger ORDER BY rowid`)
	if err != nil {
		return nil, s.classify(err, "load ledger")
	}
	defer rows.Close()

	ledger := NewLedger()
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, s.classify(err, "scan ledger row")
		}
		if err := ValidID(id); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s", s.path), ErrCorrupt)
		}
		if err := ledger.Record(id, model.ItemState(state)); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s", s.path), ErrCorrupt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err, "iterate ledger")
	}
	return ledger, nil
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string) error {
	return s.mark(ctx, id, model.StateCompleted)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string) error {
	return s.mark(ctx, id, model.StateFailed)
}

func (s *SQLiteStore) mark(ctx context.Context, id string, state model.ItemState) error {
	if err := ValidID(id); err != nil {
		return err
	}
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err, "begin mark %s", id)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var cur string
	err = tx.QueryRowContext(ctx, `SELECT state FROM ledger WHERE identifier = ?`, id).Scan(&cur)
	switch {
	case err == nil:
		if model.ItemState(cur) == state {
			return nil
		}
		return errors.Wrapf(ErrConflict, "%s is already %s", id, cur)
	case !errors.Is(err, sql.ErrNoRows):
		return unavailable(err, "lookup %s", id)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger (identifier, state, marked_at) VALUES (?, ?, ?)`,
		id, string(state), s.now().UTC().Format(time.RFC3339),
	); err != nil {
		return unavailable(err, "mark %s %s", id, state)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err, "commit mark %s", id)
	}
	return nil
}

func (s *SQLiteStore) ResetFailed(ctx context.Context, ids []string) (int, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return 0, err
	}
	if ids == nil {
		res, err := s.db.ExecContext(ctx, `DELETE FROM ledger WHERE state = 'failed'`)
		if err != nil {
			return 0, unavailable(err, "reset failed ids")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, unavailable(err, "count reset ids")
		}
		return int(n), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err, "begin reset")
	}
	defer func() {
		_ = tx.Rollback()
	}()
	reset := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM ledger WHERE identifier = ? AND state = 'failed'`, id)
		if err != nil {
			return 0, unavailable(err, "reset %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, unavailable(err, "count reset of %s", id)
		}
		reset += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err, "commit reset")
	}
	return reset, nil
}

func (s *SQLiteStore) Close() error {
	return s.closeDB()
}

func (s *SQLiteStore) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) ensureOpen(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	_, err := s.Load(ctx)
	return err
}

func (s *SQLiteStore) classify(err error, op string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") {
		return errors.Mark(errors.Wrapf(err, "%s %s", op, s.path), ErrCorrupt)
	}
	return unavailable(err, "%s %s", op, s.path)
}
