package git

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fberrors "git.home.luguber.info/inful/fixbot/internal/errors"
)

// initFixtureRepo creates a local repository with one commit and returns its
// path and commit sha.
func initFixtureRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "App.java"), []byte("class App {}\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("App.java")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@t", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestCheckoutCommitFromLocalClone(t *testing.T) {
	src, sha := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "work")

	c := NewClient("")
	require.NoError(t, c.CheckoutCommit(context.Background(), src, dst, sha))
	assert.FileExists(t, filepath.Join(dst, "App.java"))

	// Second call reuses the clone (fetch path).
	require.NoError(t, c.CheckoutCommit(context.Background(), src, dst, sha))
}

func TestCheckoutUnknownCommitIsNotFound(t *testing.T) {
	src, _ := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "work")

	c := NewClient("")
	err := c.CheckoutCommit(context.Background(), src, dst, "0123456789abcdef0123456789abcdef01234567")
	require.Error(t, err)
	assert.True(t, fberrors.IsCategory(err, fberrors.CategoryNotFound))
	assert.False(t, fberrors.IsRetryable(err))
}

func TestBranchCommitAndModifiedPaths(t *testing.T) {
	src, sha := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "work")

	c := NewClient("")
	require.NoError(t, c.CheckoutCommit(context.Background(), src, dst, sha))
	require.NoError(t, c.CreateBranch(dst, "ci-fix/build-1"))

	require.NoError(t, os.WriteFile(filepath.Join(dst, "App.java"), []byte("class App { int x; }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "New.java"), []byte("class New {}\n"), 0o644))

	paths, err := c.ModifiedPaths(dst)
	require.NoError(t, err)
	sort.Strings(paths)
	assert.Equal(t, []string{"App.java", "New.java"}, paths)

	commit, err := c.CommitAll(dst, "Fix: CI build #1 (abc1234)")
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	paths, err = c.ModifiedPaths(dst)
	require.NoError(t, err)
	assert.Empty(t, paths, "everything staged and committed")
}
