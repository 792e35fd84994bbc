package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/git"
	"git.home.luguber.info/inful/fixbot/internal/metrics"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/prompt"
)

const appDiff = "@@ -2,3 +2,3 @@\n     void run() {\n-        broken();\n+        fixed();\n     }\n"

type stubGenerator struct {
	diff   string
	err    error
	inputs []prompt.Input
}

func (g *stubGenerator) GenerateDiff(ctx context.Context, in prompt.Input) (string, error) {
	g.inputs = append(g.inputs, in)
	return g.diff, g.err
}

func codeFixTask(t *testing.T, payload orchestrator.Payload) *model.Task {
	t.Helper()
	return &model.Task{Type: model.TaskCodeFix, Payload: payload.Encode()}
}

func TestCodeFixAppliesGeneratedPatch(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ws, dir := newFixtureWorkspace(t, b.ID)
	b.WorkDir = dir
	ctx := context.Background()

	candPath := filepath.Join("src", "main", "java", "App.java")
	require.NoError(t, s.SaveCandidates(ctx, b.ID, []model.CandidateFile{
		{BuildID: b.ID, Path: candPath, Score: 0.8},
	}))

	gen := &stubGenerator{diff: appDiff}
	stage := NewCodeFixStage(s, gen, git.NewClient(""), ws, metrics.NoopRecorder{})

	res, err := stage.Execute(ctx, b, codeFixTask(t, orchestrator.Payload{Plan: somePlan(t), Round: 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Payload.Round)
	assert.Empty(t, res.Payload.ValidationTail)

	content, err := os.ReadFile(filepath.Join(dir, candPath))
	require.NoError(t, err)
	assert.Contains(t, string(content), "fixed();")

	patches, err := s.ListPatches(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.True(t, patches[0].Applied)
	assert.Contains(t, patches[0].ApplyLog, "applied 1 hunk(s)")

	// The fix landed as a commit on the fix branch.
	c := git.NewClient("")
	modified, err := c.ModifiedPaths(dir)
	require.NoError(t, err)
	assert.Empty(t, modified, "worktree is clean after the fix commit")
}

func TestCodeFixCommitNamesRepository(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ws, dir := newFixtureWorkspace(t, b.ID)
	b.WorkDir = dir
	ctx := context.Background()

	candPath := filepath.Join("src", "main", "java", "App.java")
	require.NoError(t, s.SaveCandidates(ctx, b.ID, []model.CandidateFile{
		{BuildID: b.ID, Path: candPath, Score: 0.8},
	}))

	stage := NewCodeFixStage(s, &stubGenerator{diff: appDiff}, git.NewClient(""), ws, metrics.NoopRecorder{})
	_, err := stage.Execute(ctx, b, codeFixTask(t, orchestrator.Payload{Plan: somePlan(t), Round: 1}))
	require.NoError(t, err)

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)

	assert.Contains(t, commit.Message, "Fix CI build #17 for acme/shop-backend")
	assert.Contains(t, commit.Message, candPath)
}

func TestCodeFixPassesValidationTailToPrompt(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ws, dir := newFixtureWorkspace(t, b.ID)
	b.WorkDir = dir
	ctx := context.Background()

	candPath := filepath.Join("src", "main", "java", "App.java")
	require.NoError(t, s.SaveCandidates(ctx, b.ID, []model.CandidateFile{
		{BuildID: b.ID, Path: candPath, Score: 0.8},
	}))

	gen := &stubGenerator{diff: appDiff}
	stage := NewCodeFixStage(s, gen, git.NewClient(""), ws, metrics.NoopRecorder{})

	res, err := stage.Execute(ctx, b, codeFixTask(t, orchestrator.Payload{
		Plan:           somePlan(t),
		ValidationTail: "App.java:[3,9] cannot find symbol",
		Round:          2,
	}))
	require.NoError(t, err)

	require.Len(t, gen.inputs, 1)
	assert.Equal(t, "App.java:[3,9] cannot find symbol", gen.inputs[0].ValidationTail)
	assert.Equal(t, 2, res.Payload.Round)
	assert.Empty(t, res.Payload.ValidationTail, "the tail is consumed by this round")
}

func TestCodeFixSkipsOversizedCandidates(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ws, dir := newFixtureWorkspace(t, b.ID)
	b.WorkDir = dir
	ctx := context.Background()

	bigPath := filepath.Join("src", "main", "java", "Big.java")
	big := "// " + strings.Repeat("x", prompt.MaxFileBytes) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, bigPath), []byte(big), 0o644))

	candPath := filepath.Join("src", "main", "java", "App.java")
	require.NoError(t, s.SaveCandidates(ctx, b.ID, []model.CandidateFile{
		{BuildID: b.ID, Path: bigPath, Score: 0.9},
		{BuildID: b.ID, Path: candPath, Score: 0.8},
	}))

	gen := &stubGenerator{diff: appDiff}
	stage := NewCodeFixStage(s, gen, git.NewClient(""), ws, metrics.NoopRecorder{})

	_, err := stage.Execute(ctx, b, codeFixTask(t, orchestrator.Payload{Plan: somePlan(t), Round: 1}))
	require.NoError(t, err)

	require.Len(t, gen.inputs, 1, "oversized candidate never reaches the model")
	assert.Equal(t, candPath, gen.inputs[0].FilePath)
}

func TestCodeFixFailsWhenNoPatchApplies(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ws, dir := newFixtureWorkspace(t, b.ID)
	b.WorkDir = dir
	ctx := context.Background()

	candPath := filepath.Join("src", "main", "java", "App.java")
	require.NoError(t, s.SaveCandidates(ctx, b.ID, []model.CandidateFile{
		{BuildID: b.ID, Path: candPath, Score: 0.8},
	}))

	// Context that does not exist in the file.
	gen := &stubGenerator{diff: "@@ -1,1 +1,1 @@\n-no such line\n+whatever\n"}
	stage := NewCodeFixStage(s, gen, git.NewClient(""), ws, metrics.NoopRecorder{})

	_, err := stage.Execute(ctx, b, codeFixTask(t, orchestrator.Payload{Plan: somePlan(t), Round: 1}))
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryPatch))
	assert.True(t, apperrors.IsRetryable(err))

	patches, err := s.ListPatches(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.False(t, patches[0].Applied)
}

func TestCodeFixRequiresPlan(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ws, dir := newFixtureWorkspace(t, b.ID)
	b.WorkDir = dir

	stage := NewCodeFixStage(s, &stubGenerator{}, git.NewClient(""), ws, metrics.NoopRecorder{})
	_, err := stage.Execute(context.Background(), b, codeFixTask(t, orchestrator.Payload{}))
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryInternal))
}
