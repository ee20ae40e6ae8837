package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteStore_CorruptDatabaseFailsSoft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SQLiteFile)
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	s := NewSQLiteStore(path, zap.NewNop().Sugar())
	defer s.Close()
	ledger, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Zero(t, ledger.Len())
	require.True(t, errors.Is(ledger.Recovered(), ErrCorrupt), "got %v", ledger.Recovered())

	require.NoError(t, s.MarkCompleted(context.Background(), "v1"))
	matches, err := filepath.Glob(filepath.Join(dir, SQLiteFile+".corrupt-*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSQLiteStore_InspectLeavesCorruptDatabaseInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SQLiteFile)
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	ledger, err := NewSQLiteStore(path, zap.NewNop().Sugar()).Inspect(context.Background())
	require.NoError(t, err)
	require.Zero(t, ledger.Len())
	require.True(t, errors.Is(ledger.Recovered(), ErrCorrupt), "got %v", ledger.Recovered())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, garbage, data)
	matches, err := filepath.Glob(filepath.Join(dir, SQLiteFile+".corrupt-*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}
