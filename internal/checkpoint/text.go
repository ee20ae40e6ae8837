package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/runstore"
)

// TextStore keeps the ledger as two newline-separated identifier lists. Each
// mark rewrites the affected list through an atomic replace, so a kill during
// a write leaves the previous committed list intact.
type TextStore struct {
	dir           string
	completedPath string
	failedPath    string
	logger        *zap.SugaredLogger
	now           func() time.Time

	ledger *Ledger
}

func NewTextStore(dir string, logger *zap.SugaredLogger) *TextStore {
	return &TextStore{
		dir:           dir,
		completedPath: filepath.Join(dir, CompletedFile),
		failedPath:    filepath.Join(dir, FailedFile),
		logger:        logger,
		now:           time.Now,
	}
}

func (s *TextStore) Load(_ context.Context) (*Ledger, error) {
	if err := runstore.Mkdir(s.dir); err != nil {
		return nil, unavailable(err, "%s", s.dir)
	}
	ledger, err := s.readLedger()
	if err != nil {
		return nil, err
	}

	if corrupt := ledger.recovered; corrupt != nil {
		suffix := corruptSuffix(s.now().UTC().Format("20060102T150405Z"))
		for _, p := range []string{s.completedPath, s.failedPath} {
			moved, err := runstore.MoveAside(p, suffix)
			if err != nil {
				return nil, unavailable(err, "%s", p)
			}
			if moved != "" {
				s.logger.Warnw("discarded corrupt checkpoint file", "file", p, "moved_to", moved)
			}
		}
		s.logger.Warnw("checkpoint ledger corrupt; starting empty, finished videos will be fetched again",
			"dir", s.dir, "error", corrupt)
	}

	s.ledger = ledger
	return ledger.clone(), nil
}

// Inspect reads both lists without creating or moving any file.
func (s *TextStore) Inspect(_ context.Context) (*Ledger, error) {
	return s.readLedger()
}

// readLedger parses both lists. When either cannot be trusted the ledger is
// empty and carries the corruption in recovered.
func (s *TextStore) readLedger() (*Ledger, error) {
	completed, cErr := readIDList(s.completedPath)
	failed, fErr := readIDList(s.failedPath)
	for _, err := range []error{cErr, fErr} {
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
	}

	ledger := NewLedger()
	corrupt := errors.CombineErrors(cErr, fErr)
	if corrupt == nil {
		for _, id := range completed {
			_ = ledger.Record(id, model.StateCompleted)
		}
		for _, id := range failed {
			if err := ledger.Record(id, model.StateFailed); err != nil {
				corrupt = errors.Mark(errors.Wrapf(err, "%s appears in both %s and %s", id, CompletedFile, FailedFile), ErrCorrupt)
				break
			}
		}
	}
	if corrupt != nil {
		ledger = NewLedger()
		ledger.recovered = corrupt
	}
	return ledger, nil
}

func (s *TextStore) MarkCompleted(ctx context.Context, id string) error {
	return s.mark(ctx, id, model.StateCompleted)
}

func (s *TextStore) MarkFailed(ctx context.Context, id string) error {
	return s.mark(ctx, id, model.StateFailed)
}

func (s *TextStore) mark(ctx context.Context, id string, state model.ItemState) error {
	if err := ValidID(id); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if s.ledger.State(id) == state {
		return nil
	}
	next := s.ledger.clone()
	if err := next.Record(id, state); err != nil {
		return err
	}

	path, ids := s.completedPath, next.completed
	if state == model.StateFailed {
		path, ids = s.failedPath, next.failed
	}
	if err := runstore.WriteBytes(path, encodeIDList(ids)); err != nil {
		return unavailable(err, "mark %s %s", id, state)
	}
	s.ledger = next
	return nil
}

func (s *TextStore) ResetFailed(ctx context.Context, ids []string) (int, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	if ids == nil {
		ids = s.ledger.Failed()
	}
	next := s.ledger.clone()
	reset := 0
	for _, id := range ids {
		if next.Forget(id) {
			reset++
		}
	}
	if reset == 0 {
		return 0, nil
	}
	if err := runstore.WriteBytes(s.failedPath, encodeIDList(next.failed)); err != nil {
		return 0, unavailable(err, "reset failed ids")
	}
	s.ledger = next
	return reset, nil
}

func (s *TextStore) Close() error {
	return nil
}

func (s *TextStore) ensureLoaded(ctx context.Context) error {
	if s.ledger != nil {
		return nil
	}
	_, err := s.Load(ctx)
	return err
}

// readIDList parses one identifier per line. Blank lines and duplicates are
// tolerated so files appended by older collectors still load.
func readIDList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, unavailable(err, "read %s", path)
	}

	seen := make(map[string]bool)
	out := make([]string, 0)
	for n, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := ValidID(id); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s line %d", path, n+1), ErrCorrupt)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func encodeIDList(ids []string) []byte {
	if len(ids) == 0 {
		return nil
	}
	return []byte(strings.Join(ids, "\n") + "\n")
}
