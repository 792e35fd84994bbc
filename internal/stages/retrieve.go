package stages

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/git"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/ranker"
	"git.home.luguber.info/inful/fixbot/internal/store"
	"git.home.luguber.info/inful/fixbot/internal/workspace"
)

// RetrieveStage checks out the failed commit, analyzes the project, and
// ranks candidate files for the fix.
type RetrieveStage struct {
	store      *store.Store
	git        *git.Client
	workspaces *workspace.Manager
}

// NewRetrieveStage builds the retrieve handler.
func NewRetrieveStage(s *store.Store, g *git.Client, ws *workspace.Manager) *RetrieveStage {
	return &RetrieveStage{store: s, git: g, workspaces: ws}
}

func (s *RetrieveStage) Execute(ctx context.Context, build *model.Build, task *model.Task) (orchestrator.Result, error) {
	payload, err := orchestrator.DecodePayload(task.Payload)
	if err != nil {
		return orchestrator.Result{}, err
	}

	dir, err := s.workspaces.Ensure(build.ID)
	if err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.git.CheckoutCommit(ctx, build.RepoURL, dir, build.CommitSHA); err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.store.SetBuildWorkDir(ctx, build.ID, dir); err != nil {
		return orchestrator.Result{}, err
	}

	pc, err := analyzer.Analyze(dir)
	if err != nil {
		return orchestrator.Result{}, err
	}

	res := ranker.New(ranker.DirReader(dir)).Rank(build.ID, payload.Plan, pc)
	if len(res.Candidates) == 0 {
		return orchestrator.Result{}, apperrors.New(apperrors.CategoryCandidates, apperrors.SeverityError,
			"no candidate files in working tree")
	}
	if err := s.store.SaveCandidates(ctx, build.ID, res.Candidates); err != nil {
		return orchestrator.Result{}, err
	}

	slog.Info("Candidates ranked",
		logfields.BuildID(build.ID),
		logfields.Path(dir),
		slog.Int("candidates", len(res.Candidates)),
		slog.String("top", res.Candidates[0].Path),
		slog.Float64("confidence", res.Confidence))

	return orchestrator.Result{Payload: payload}, nil
}
