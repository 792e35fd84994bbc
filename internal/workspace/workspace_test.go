package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAndRemove(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "work"), 7*24*time.Hour)
	require.NoError(t, err)

	dir, err := m.Ensure("b-1")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, m.Dir("b-1"), dir)

	require.NoError(t, m.Remove("b-1"))
	assert.NoDirExists(t, dir)
}

func TestSweepRemovesOnlyExpiredDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "work")
	m, err := New(root, 7*24*time.Hour)
	require.NoError(t, err)

	oldDir, err := m.Ensure("b-old")
	require.NoError(t, err)
	freshDir, err := m.Ensure("b-fresh")
	require.NoError(t, err)

	stale := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, stale, stale))

	// A stray file in the root is left alone.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	removed, err := m.Sweep(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, freshDir)
	assert.FileExists(t, filepath.Join(root, "notes.txt"))
}

func TestSweepEmptyRoot(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "work"), time.Hour)
	require.NoError(t, err)
	removed, err := m.Sweep(time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
