// Package git wraps go-git for the clone/checkout/branch/commit/push cycle
// the pipeline needs. All operations work on a per-build working directory.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	fberrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
)

// Client handles Git operations for build working directories.
type Client struct {
	token string // forge token for authenticated clone/push, may be empty
}

// NewClient creates a Git client. token is used as HTTP basic auth for
// private repositories and pushes.
func NewClient(token string) *Client {
	return &Client{token: token}
}

func (c *Client) auth() transport.AuthMethod {
	if c.token == "" {
		return nil
	}
	// GitHub/GitLab/Forgejo accept the token with a fixed username.
	return &githttp.BasicAuth{Username: "token", Password: c.token}
}

// CheckoutCommit clones repoURL into dir (or fetches when dir already holds
// a clone) and checks out the given commit. An unresolvable commit is a
// non-retryable error.
func (c *Client) CheckoutCommit(ctx context.Context, repoURL, dir, commitSHA string) error {
	repo, err := c.openOrClone(ctx, repoURL, dir)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "get worktree")
	}

	hash := plumbing.NewHash(commitSHA)
	if _, err := repo.CommitObject(hash); err != nil {
		return fberrors.Wrap(err, fberrors.CategoryNotFound, fberrors.SeverityError,
			fmt.Sprintf("commit %s not found in %s", shortSHA(commitSHA), repoURL))
	}

	if err := worktree.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "checkout commit")
	}

	slog.Info("Checked out commit", logfields.URL(repoURL), logfields.Commit(shortSHA(commitSHA)), logfields.Path(dir))
	return nil
}

func (c *Client) openOrClone(ctx context.Context, repoURL, dir string) (*gogit.Repository, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		repo, err := gogit.PlainOpen(dir)
		if err != nil {
			return nil, fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "open repository")
		}
		err = repo.FetchContext(ctx, &gogit.FetchOptions{
			RemoteName: "origin",
			Auth:       c.auth(),
			Tags:       gogit.AllTags,
		})
		if err != nil && err != gogit.NoErrAlreadyUpToDate {
			return nil, fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "fetch repository")
		}
		slog.Debug("Reusing existing clone", logfields.Path(dir))
		return repo, nil
	}

	slog.Debug("Cloning repository", logfields.URL(repoURL), logfields.Path(dir))
	repo, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
		URL:  repoURL,
		Auth: c.auth(),
	})
	if err != nil {
		if err == transport.ErrRepositoryNotFound {
			return nil, fberrors.Wrap(err, fberrors.CategoryNotFound, fberrors.SeverityError, "repository not found: "+repoURL)
		}
		if err == transport.ErrAuthenticationRequired || err == transport.ErrAuthorizationFailed {
			return nil, fberrors.Wrap(err, fberrors.CategoryAuth, fberrors.SeverityError, "clone authentication failed")
		}
		return nil, fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "clone repository "+repoURL)
	}
	return repo, nil
}

// CreateBranch creates (or resets) a local branch at the current HEAD and
// checks it out.
func (c *Client) CreateBranch(dir, name string) error {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "open repository")
	}
	head, err := repo.Head()
	if err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "resolve HEAD")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "get worktree")
	}

	ref := plumbing.NewBranchReferenceName(name)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(ref, head.Hash())); err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "create branch "+name)
	}
	if err := worktree.Checkout(&gogit.CheckoutOptions{Branch: ref}); err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "checkout branch "+name)
	}

	slog.Debug("Created fix branch", slog.String("branch", name), logfields.Path(dir))
	return nil
}

// CommitAll stages every modification in the worktree and creates a single
// commit. Returns the new commit hash.
func (c *Client) CommitAll(dir, message string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "open repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "get worktree")
	}
	if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "stage modifications")
	}

	hash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "fixbot",
			Email: "fixbot@noreply.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "commit")
	}

	slog.Info("Committed fix", logfields.Commit(hash.String()[:8]), logfields.Path(dir))
	return hash.String(), nil
}

// Push pushes the given local branch to origin.
func (c *Client) Push(ctx context.Context, dir, branch string) error {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "open repository")
	}

	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       c.auth(),
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		if err == transport.ErrAuthenticationRequired || err == transport.ErrAuthorizationFailed {
			return fberrors.Wrap(err, fberrors.CategoryAuth, fberrors.SeverityError, "push authentication failed")
		}
		return fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "push branch "+branch)
	}

	slog.Info("Pushed fix branch", slog.String("branch", branch))
	return nil
}

// ModifiedPaths returns the paths with uncommitted modifications relative to
// the repository root.
func (c *Client) ModifiedPaths(dir string) ([]string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "open repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "get worktree")
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, fberrors.Wrap(err, fberrors.CategoryGit, fberrors.SeverityError, "worktree status")
	}
	var paths []string
	for path, st := range status {
		if st.Worktree != gogit.Unmodified || st.Staging != gogit.Unmodified {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
