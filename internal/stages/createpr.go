package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/fixbot/internal/forge"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/store"
	"git.home.luguber.info/inful/fixbot/internal/workspace"
)

// BranchPusher pushes the fix branch to the origin remote. Satisfied by
// *git.Client.
type BranchPusher interface {
	Push(ctx context.Context, dir, branch string) error
}

// PROpener talks to the hosting forge. Satisfied by *forge.Client.
type PROpener interface {
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*forge.PullRequest, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
}

// CreatePRStage pushes the fix branch and opens the pull request. A build
// that already has a PR row succeeds without touching the forge again.
type CreatePRStage struct {
	store      *store.Store
	git        BranchPusher
	forge      PROpener
	workspaces *workspace.Manager
}

// NewCreatePRStage builds the create_pr handler.
func NewCreatePRStage(s *store.Store, g BranchPusher, f PROpener, ws *workspace.Manager) *CreatePRStage {
	return &CreatePRStage{store: s, git: g, forge: f, workspaces: ws}
}

func (s *CreatePRStage) Execute(ctx context.Context, build *model.Build, task *model.Task) (orchestrator.Result, error) {
	payload, err := orchestrator.DecodePayload(task.Payload)
	if err != nil {
		return orchestrator.Result{}, err
	}

	if existing, err := s.store.GetPullRequest(ctx, build.ID); err == nil && existing != nil {
		slog.Info("Pull request already exists",
			logfields.BuildID(build.ID),
			logfields.URL(existing.URL))
		return orchestrator.Result{Payload: payload}, nil
	}

	owner, repo, err := forge.ParseRepoURL(build.RepoURL)
	if err != nil {
		return orchestrator.Result{}, err
	}

	dir := build.WorkDir
	if dir == "" {
		dir = s.workspaces.Dir(build.ID)
	}
	branch := model.FixBranch(build.ID)
	if err := s.git.Push(ctx, dir, branch); err != nil {
		return orchestrator.Result{}, err
	}

	body, err := s.prBody(ctx, build, payload)
	if err != nil {
		return orchestrator.Result{}, err
	}
	title := forge.Title(build.BuildNumber, build.CommitSHA)

	pr, err := s.forge.CreatePullRequest(ctx, owner, repo, title, body, branch, build.Branch)
	if err != nil {
		return orchestrator.Result{}, err
	}
	// Labels are decoration; a label failure never fails the stage.
	if err := s.forge.AddLabels(ctx, owner, repo, pr.Number, forge.Labels); err != nil {
		slog.Warn("Label attach failed",
			logfields.BuildID(build.ID),
			slog.Int("pr", pr.Number),
			logfields.Error(err))
	}

	if _, _, err := s.store.CreatePullRequest(ctx, &model.PullRequest{
		BuildID: build.ID,
		Branch:  branch,
		Number:  pr.Number,
		URL:     pr.URL,
	}); err != nil {
		return orchestrator.Result{}, err
	}

	slog.Info("Pull request opened",
		logfields.BuildID(build.ID),
		logfields.Branch(branch),
		slog.Int("pr", pr.Number),
		logfields.URL(pr.URL))
	return orchestrator.Result{Payload: payload}, nil
}

func (s *CreatePRStage) prBody(ctx context.Context, build *model.Build, payload orchestrator.Payload) (string, error) {
	patches, err := s.store.ListPatches(ctx, build.ID)
	if err != nil {
		return "", err
	}
	var patched []string
	for _, p := range patches {
		if p.Applied {
			patched = append(patched, p.Path)
		}
	}

	validations, err := s.store.ListValidations(ctx, build.ID)
	if err != nil {
		return "", err
	}

	planSummary := ""
	if payload.Plan != nil {
		planSummary = payload.Plan.Summary()
	}
	return forge.Body(forge.BodyInput{
		Job:               build.Job,
		BuildNumber:       build.BuildNumber,
		PlanSummary:       planSummary,
		PatchedFiles:      patched,
		ValidationSummary: validationSummary(validations),
	}), nil
}

// validationSummary condenses the recorded validation rows into one line
// for the PR body. Skipped validation yields an empty summary.
func validationSummary(validations []*model.Validation) string {
	var parts []string
	for _, v := range validations {
		if v.Type == model.ValidationSkipped {
			continue
		}
		part := fmt.Sprintf("%s: exit %d", v.Type, v.ExitCode)
		if v.ContextLoaded {
			part += " (application context started)"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
