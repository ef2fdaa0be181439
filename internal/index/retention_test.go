package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacdex/stacdex/internal/source"
)

func snapshotName(day int) string {
	return fmt.Sprintf("2024-01-%02dT00.00.00.000000Z-%032x", day, day)
}

func TestRetainDeletesOldest(t *testing.T) {
	dir := t.TempDir()
	for day := 1; day <= 5; day++ {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, snapshotName(day)), 0755))
	}
	// A non-snapshot directory is never touched.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scratch"), 0755))

	sources := source.NewRegistry(source.NewLocalSource())
	require.NoError(t, Retain(context.Background(), sources, dir, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{snapshotName(4), snapshotName(5), "scratch"}, names)
}

func TestRetainKeepsAllWhenUnderLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, snapshotName(1)), 0755))

	sources := source.NewRegistry(source.NewLocalSource())
	require.NoError(t, Retain(context.Background(), sources, dir, 3))

	_, err := os.Stat(filepath.Join(dir, snapshotName(1)))
	assert.NoError(t, err)
}

func TestRetainRefusesNonPositiveKeep(t *testing.T) {
	dir := t.TempDir()
	for day := 1; day <= 4; day++ {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, snapshotName(day)), 0755))
	}

	sources := source.NewRegistry(source.NewLocalSource())
	// keep=0 falls back to the default of 3 instead of deleting everything.
	require.NoError(t, Retain(context.Background(), sources, dir, 0))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSnapshotDirPattern(t *testing.T) {
	assert.True(t, snapshotDirPattern.MatchString("2024-01-01T00.00.00.000000Z-0123456789abcdef0123456789abcdef/"))
	assert.True(t, snapshotDirPattern.MatchString("/base/2024-01-01T00.00.00.000000Z-0123456789abcdef0123456789abcdef/"))
	assert.False(t, snapshotDirPattern.MatchString("2024-01-01-notasnapshot/"))
	assert.False(t, snapshotDirPattern.MatchString("2024-01-01T00.00.00.000000Z-TOOSHORT/"))
}
