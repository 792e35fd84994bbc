package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTarget(t *testing.T, content string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = "src/main/java/S.java"
	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return dir, path
}

func readTarget(t *testing.T, dir, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, path))
	require.NoError(t, err)
	return string(data)
}

func TestApplySingleHunk(t *testing.T) {
	dir, path := writeTarget(t, "a\nb\nc\n")
	log, err := Apply(dir, path, "@@ -2,1 +2,1 @@\n-b\n+B\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", readTarget(t, dir, path))
	assert.Contains(t, log, "applied 1 hunk(s)")
}

func TestApplyCountsDefaultToOne(t *testing.T) {
	dir, path := writeTarget(t, "a\nb\nc\n")
	_, err := Apply(dir, path, "@@ -2 +2 @@\n-b\n+B\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", readTarget(t, dir, path))
}

func TestApplyMultipleHunksInOrder(t *testing.T) {
	dir, path := writeTarget(t, "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10\n")
	diff := "@@ -2,3 +2,3 @@\n l2\n-l3\n+L3\n l4\n" +
		"@@ -8,2 +8,3 @@\n l8\n+NEW\n l9\n"
	_, err := Apply(dir, path, diff)
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\nL3\nl4\nl5\nl6\nl7\nl8\nNEW\nl9\nl10\n", readTarget(t, dir, path))
}

func TestApplyPureInsertion(t *testing.T) {
	dir, path := writeTarget(t, "a\nb\n")
	_, err := Apply(dir, path, "@@ -1,0 +2,1 @@\n+between\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nbetween\nb\n", readTarget(t, dir, path))
}

func TestApplyContextMismatchLeavesFileUntouched(t *testing.T) {
	dir, path := writeTarget(t, "a\nb\nc\n")
	_, err := Apply(dir, path, "@@ -2,1 +2,1 @@\n-WRONG\n+B\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context mismatch at line 2")
	assert.Equal(t, "a\nb\nc\n", readTarget(t, dir, path), "no partial write")
}

func TestApplyLaterHunkFailureRollsBack(t *testing.T) {
	dir, path := writeTarget(t, "a\nb\nc\nd\n")
	diff := "@@ -1,1 +1,1 @@\n-a\n+A\n" +
		"@@ -3,1 +3,1 @@\n-WRONG\n+C\n"
	_, err := Apply(dir, path, diff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context mismatch at line 3")
	assert.Equal(t, "a\nb\nc\nd\n", readTarget(t, dir, path), "first hunk not half-applied")
}

func TestParseRejectsEmptyAndHunkless(t *testing.T) {
	_, err := Parse("no hunks here at all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hunks")
}

func TestParseRejectsIllegalPrefix(t *testing.T) {
	_, err := Parse("@@ -1,1 +1,1 @@\n-a\n*b\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal line prefix")
}

func TestParseRejectsCountMismatch(t *testing.T) {
	_, err := Parse("@@ -1,2 +1,1 @@\n-a\n+b\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body has")
}

func TestParseIgnoresFileHeadersAndProse(t *testing.T) {
	hunks, err := Parse("--- a/S.java\n+++ b/S.java\n@@ -1,1 +1,1 @@\n-a\n+b\n")
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, 1, hunks[0].OrigStart)
	assert.Equal(t, []string{"-a", "+b"}, hunks[0].Lines)
}

func TestApplyPreservesMissingTrailingNewline(t *testing.T) {
	dir, path := writeTarget(t, "a\nb")
	_, err := Apply(dir, path, "@@ -1,1 +1,1 @@\n-a\n+A\n")
	require.NoError(t, err)
	assert.Equal(t, "A\nb", readTarget(t, dir, path))
}
