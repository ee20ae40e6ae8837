package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yt-comment-collector/internal/model"
)

func backends(t *testing.T) map[string]func(dir string) Store {
	t.Helper()
	logger := zap.NewNop().Sugar()
	return map[string]func(dir string) Store{
		BackendText: func(dir string) Store {
			return NewTextStore(dir, logger)
		},
		BackendSQLite: func(dir string) Store {
			return NewSQLiteStore(filepath.Join(dir, SQLiteFile), logger)
		},
	}
}

func TestStore_MissingLedgerLoadsEmpty(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(filepath.Join(t.TempDir(), "progress"))
			defer s.Close()

			ledger, err := s.Load(context.Background())
			require.NoError(t, err)
			require.Zero(t, ledger.Len())
			require.NoError(t, ledger.Recovered())
			require.Equal(t, model.StatePending, ledger.State("v1"))
		})
	}
}

func TestStore_MarksSurviveReopen(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s := newStore(dir)
			_, err := s.Load(ctx)
			require.NoError(t, err)
			require.NoError(t, s.MarkCompleted(ctx, "v1"))
			require.NoError(t, s.MarkFailed(ctx, "v2"))
			require.NoError(t, s.MarkCompleted(ctx, "v3"))
			require.NoError(t, s.Close())

			reopened := newStore(dir)
			defer reopened.Close()
			ledger, err := reopened.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"v1", "v3"}, ledger.Completed())
			require.Equal(t, []string{"v2"}, ledger.Failed())
			require.True(t, ledger.IsTerminal("v1"))
			require.True(t, ledger.IsTerminal("v2"))
			require.False(t, ledger.IsTerminal("v4"))
		})
	}
}

func TestStore_MarkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s := newStore(dir)
			defer s.Close()
			_, err := s.Load(ctx)
			require.NoError(t, err)

			require.NoError(t, s.MarkCompleted(ctx, "v1"))
			require.NoError(t, s.MarkCompleted(ctx, "v1"))
			require.NoError(t, s.MarkFailed(ctx, "v2"))
			require.NoError(t, s.MarkFailed(ctx, "v2"))

			ledger, err := s.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"v1"}, ledger.Completed())
			require.Equal(t, []string{"v2"}, ledger.Failed())
		})
	}
}

func TestStore_RejectsMoveBetweenTerminalSets(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t.TempDir())
			defer s.Close()
			_, err := s.Load(ctx)
			require.NoError(t, err)

			require.NoError(t, s.MarkFailed(ctx, "v1"))
			err = s.MarkCompleted(ctx, "v1")
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrConflict), "got %v", err)

			ledger, err := s.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, model.StateFailed, ledger.State("v1"))
		})
	}
}

func TestStore_ResetFailedReturnsIdsToPending(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s := newStore(dir)
			_, err := s.Load(ctx)
			require.NoError(t, err)
			require.NoError(t, s.MarkFailed(ctx, "v1"))
			require.NoError(t, s.MarkFailed(ctx, "v2"))
			require.NoError(t, s.MarkCompleted(ctx, "v3"))

			n, err := s.ResetFailed(ctx, []string{"v1", "v3", "missing"})
			require.NoError(t, err)
			require.Equal(t, 1, n)
			require.NoError(t, s.Close())

			reopened := newStore(dir)
			defer reopened.Close()
			ledger, err := reopened.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, model.StatePending, ledger.State("v1"))
			require.Equal(t, model.StateFailed, ledger.State("v2"))
			require.Equal(t, model.StateCompleted, ledger.State("v3"))

			n, err = reopened.ResetFailed(ctx, nil)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			require.NoError(t, reopened.MarkCompleted(ctx, "v2"))
		})
	}
}

func TestStore_RejectsUnstorableIdentifiers(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t.TempDir())
			defer s.Close()
			_, err := s.Load(ctx)
			require.NoError(t, err)

			require.Error(t, s.MarkCompleted(ctx, ""))
			require.Error(t, s.MarkCompleted(ctx, "two words"))
			require.Error(t, s.MarkFailed(ctx, "line\nbreak"))
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir(), nil)
	require.Error(t, err)
}

func TestStore_UnwritableDirectoryIsUnavailable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0o500))
	t.Cleanup(func() {
		_ = os.Chmod(parent, 0o755)
	})

	s := NewTextStore(filepath.Join(parent, "progress"), zap.NewNop().Sugar())
	_, err := s.Load(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

func TestStore_InspectIsReadOnly(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			missing := filepath.Join(t.TempDir(), "progress")
			ledger, err := newStore(missing).Inspect(ctx)
			require.NoError(t, err)
			require.Zero(t, ledger.Len())
			require.NoDirExists(t, missing)

			dir := t.TempDir()
			s := newStore(dir)
			defer s.Close()
			_, err = s.Load(ctx)
			require.NoError(t, err)
			require.NoError(t, s.MarkCompleted(ctx, "v1"))
			require.NoError(t, s.MarkFailed(ctx, "v2"))

			reader := newStore(dir)
			defer reader.Close()
			ledger, err = reader.Inspect(ctx)
			require.NoError(t, err)
			require.Equal(t, model.StateCompleted, ledger.State("v1"))
			require.Equal(t, model.StateFailed, ledger.State("v2"))

			// The writer keeps working after a concurrent read.
			require.NoError(t, s.MarkCompleted(ctx, "v3"))
		})
	}
}

func TestTextStore_InspectReportsCorruptionWithoutMovingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CompletedFile), []byte("a\nb\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FailedFile), []byte("b\n"), 0o644))

	ledger, err := NewTextStore(dir, zap.NewNop().Sugar()).Inspect(context.Background())
	require.NoError(t, err)
	require.Zero(t, ledger.Len())
	require.True(t, errors.Is(ledger.Recovered(), ErrCorrupt), "got %v", ledger.Recovered())

	require.FileExists(t, filepath.Join(dir, CompletedFile))
	require.FileExists(t, filepath.Join(dir, FailedFile))
	matches, err := filepath.Glob(filepath.Join(dir, "*.corrupt-*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}
