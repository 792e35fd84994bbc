package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fixbot/internal/classify"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/store"
	"git.home.luguber.info/inful/fixbot/internal/workspace"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBuild(t *testing.T, s *store.Store) *model.Build {
	t.Helper()
	b, created, err := s.CreateBuild(context.Background(), &model.Build{
		Job:         "shop-backend",
		BuildNumber: 17,
		Branch:      "main",
		RepoURL:     "https://git.example.com/acme/shop-backend.git",
		CommitSHA:   "abc1234def5678901234",
	})
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func somePlan(t *testing.T) *classify.Plan {
	t.Helper()
	plan := classify.Classify("[ERROR] /src/main/java/App.java:[3,9] cannot find symbol\n  symbol: method fixed()\n")
	require.NotEmpty(t, plan.Errors)
	return plan
}

const appSource = `public class App {
    void run() {
        broken();
    }
}
`

// newFixtureWorkspace creates a workspace manager whose directory for the
// build holds a committed maven project.
func newFixtureWorkspace(t *testing.T, buildID string) (*workspace.Manager, string) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), 7*24*time.Hour)
	require.NoError(t, err)
	dir, err := ws.Ensure(buildID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pom.xml"),
		[]byte("<project><artifactId>shop-backend</artifactId></project>\n"), 0o644))
	srcDir := filepath.Join(dir, "src", "main", "java")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "App.java"), []byte(appSource), 0o644))

	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddGlob("."))
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@t", When: time.Now()},
	})
	require.NoError(t, err)
	return ws, dir
}
