package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/forge"
	"git.home.luguber.info/inful/fixbot/internal/git"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/metrics"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/patch"
	"git.home.luguber.info/inful/fixbot/internal/prompt"
	"git.home.luguber.info/inful/fixbot/internal/store"
	"git.home.luguber.info/inful/fixbot/internal/workspace"
)

// DiffGenerator produces a unified diff for one candidate file. Satisfied
// by *llm.Client; swapped in tests.
type DiffGenerator interface {
	GenerateDiff(ctx context.Context, in prompt.Input) (string, error)
}

// CodeFixStage asks the model for a patch per ranked candidate and applies
// the valid ones to the working tree on the fix branch.
type CodeFixStage struct {
	store      *store.Store
	llm        DiffGenerator
	git        *git.Client
	workspaces *workspace.Manager
	recorder   metrics.Recorder
}

// NewCodeFixStage builds the code_fix handler.
func NewCodeFixStage(s *store.Store, gen DiffGenerator, g *git.Client, ws *workspace.Manager, rec metrics.Recorder) *CodeFixStage {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &CodeFixStage{store: s, llm: gen, git: g, workspaces: ws, recorder: rec}
}

func (s *CodeFixStage) Execute(ctx context.Context, build *model.Build, task *model.Task) (orchestrator.Result, error) {
	payload, err := orchestrator.DecodePayload(task.Payload)
	if err != nil {
		return orchestrator.Result{}, err
	}
	if payload.Plan == nil {
		return orchestrator.Result{}, apperrors.New(apperrors.CategoryInternal, apperrors.SeverityError,
			"code_fix task carries no failure plan")
	}

	dir := build.WorkDir
	if dir == "" {
		dir = s.workspaces.Dir(build.ID)
	}
	pc, err := analyzer.Analyze(dir)
	if err != nil {
		return orchestrator.Result{}, err
	}

	candidates, err := s.store.ListCandidates(ctx, build.ID)
	if err != nil {
		return orchestrator.Result{}, err
	}
	if len(candidates) == 0 {
		return orchestrator.Result{}, apperrors.Retryable(apperrors.CategoryCandidates, apperrors.SeverityError,
			"no ranked candidates for build")
	}

	// Branch first so patches land on a clean checkout. On later fix
	// rounds the branch is already current and this is a no-op.
	branch := model.FixBranch(build.ID)
	if err := s.git.CreateBranch(dir, branch); err != nil {
		return orchestrator.Result{}, err
	}

	applied := s.patchCandidates(ctx, build, dir, pc, candidates, payload)
	if len(applied) == 0 {
		return orchestrator.Result{}, apperrors.Retryable(apperrors.CategoryPatch, apperrors.SeverityError,
			"no candidate produced an applicable patch")
	}

	sha, err := s.git.CommitAll(dir, commitMessage(build, pc, applied))
	if err != nil {
		return orchestrator.Result{}, err
	}

	slog.Info("Fix committed",
		logfields.BuildID(build.ID),
		logfields.Branch(branch),
		logfields.Commit(sha),
		slog.Int("patched_files", len(applied)),
		slog.Int("round", round(payload)))

	// The validation tail was consumed by this round's prompts.
	return orchestrator.Result{Payload: orchestrator.Payload{Plan: payload.Plan, Round: round(payload)}}, nil
}

// patchCandidates walks the ranked candidates and returns the paths whose
// generated diff applied cleanly. Per-candidate failures are recorded and
// skipped; only a fully empty round is an error.
func (s *CodeFixStage) patchCandidates(ctx context.Context, build *model.Build, dir string, pc *analyzer.ProjectContext, candidates []model.CandidateFile, payload orchestrator.Payload) []string {
	var applied []string
	for _, cand := range candidates {
		log := slog.With(logfields.BuildID(build.ID), logfields.Path(cand.Path))

		content, err := os.ReadFile(filepath.Join(dir, cand.Path))
		if err != nil {
			log.Warn("Candidate unreadable, skipping", logfields.Error(err))
			continue
		}
		if len(content) > prompt.MaxFileBytes {
			log.Warn("Candidate exceeds prompt size limit, skipping",
				slog.Int("bytes", len(content)))
			continue
		}

		diff, err := s.llm.GenerateDiff(ctx, prompt.Input{
			Plan:           payload.Plan,
			Project:        pc,
			FilePath:       cand.Path,
			FileContent:    string(content),
			ValidationTail: payload.ValidationTail,
		})
		s.recorder.IncLLMCall(err == nil)
		if err != nil {
			log.Warn("Diff generation failed, skipping candidate", logfields.Error(err))
			continue
		}

		p := &model.Patch{
			ID:      uuid.New().String(),
			BuildID: build.ID,
			Path:    cand.Path,
			Diff:    diff,
		}
		if err := s.store.SavePatch(ctx, p); err != nil {
			log.Error("Patch persist failed", logfields.Error(err))
			continue
		}

		applyLog, err := patch.Apply(dir, cand.Path, diff)
		s.recorder.IncPatchApplied(err == nil)
		if err != nil {
			log.Warn("Patch did not apply", logfields.Error(err))
			_ = s.store.MarkPatchApplied(ctx, p.ID, false, err.Error())
			continue
		}
		if err := s.store.MarkPatchApplied(ctx, p.ID, true, applyLog); err != nil {
			log.Error("Patch persist failed", logfields.Error(err))
		}
		log.Info("Patch applied", slog.String("apply_log", applyLog))
		applied = append(applied, cand.Path)
	}
	return applied
}

func commitMessage(build *model.Build, pc *analyzer.ProjectContext, paths []string) string {
	repo := build.Job
	if owner, name, err := forge.ParseRepoURL(build.RepoURL); err == nil {
		repo = owner + "/" + name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Fix CI build #%d for %s\n\n", build.BuildNumber, repo)
	fmt.Fprintf(&b, "Job: %s\n", build.Job)
	fmt.Fprintf(&b, "Project: %s\n", pc.Summary())
	b.WriteString("Modified files:\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return b.String()
}

func round(p orchestrator.Payload) int {
	if p.Round < 1 {
		return 1
	}
	return p.Round
}
