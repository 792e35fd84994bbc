package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/store"
	"git.home.luguber.info/inful/fixbot/internal/validator"
	"git.home.luguber.info/inful/fixbot/internal/workspace"
)

// BuildRunner executes the native build tool phases. Satisfied by
// *validator.Validator; swapped in tests.
type BuildRunner interface {
	Run(ctx context.Context, dir string, tool analyzer.BuildTool) ([]validator.Result, error)
}

// ValidateStage runs the project's build tool against the patched tree and
// records the per-phase outcome. When validation is disabled the stage
// records a skipped row and passes the build straight on.
type ValidateStage struct {
	store      *store.Store
	runner     BuildRunner
	workspaces *workspace.Manager
	enabled    bool
}

// NewValidateStage builds the validate handler.
func NewValidateStage(s *store.Store, runner BuildRunner, ws *workspace.Manager, enabled bool) *ValidateStage {
	return &ValidateStage{store: s, runner: runner, workspaces: ws, enabled: enabled}
}

func (s *ValidateStage) Execute(ctx context.Context, build *model.Build, task *model.Task) (orchestrator.Result, error) {
	payload, err := orchestrator.DecodePayload(task.Payload)
	if err != nil {
		return orchestrator.Result{}, err
	}
	payload.ValidationTail = ""

	if !s.enabled {
		slog.Info("Validation disabled, recording skip", logfields.BuildID(build.ID))
		err := s.store.SaveValidation(ctx, &model.Validation{
			ID:      uuid.New().String(),
			BuildID: build.ID,
			Type:    model.ValidationSkipped,
		})
		return orchestrator.Result{Payload: payload}, err
	}

	dir := build.WorkDir
	if dir == "" {
		dir = s.workspaces.Dir(build.ID)
	}
	pc, err := analyzer.Analyze(dir)
	if err != nil {
		return orchestrator.Result{}, err
	}

	results, err := s.runner.Run(ctx, dir, pc.BuildTool)
	if rerr := s.saveResults(ctx, build.ID, results); rerr != nil {
		return orchestrator.Result{}, rerr
	}
	if err != nil {
		return orchestrator.Result{}, err
	}

	for _, r := range results {
		if r.OK() {
			continue
		}
		if r.TimedOut {
			// A killed build says nothing about the patch; retry the stage
			// instead of spending a fix round on it.
			return orchestrator.Result{}, apperrors.Retryable(apperrors.CategoryTimeout, apperrors.SeverityWarning,
				fmt.Sprintf("%s phase timed out", r.Phase))
		}
		tail := r.StderrTail
		if tail == "" {
			tail = r.StdoutTail
		}
		return orchestrator.Result{}, apperrors.New(apperrors.CategoryBuildTool, apperrors.SeverityError,
			fmt.Sprintf("%s phase failed with exit code %d", r.Phase, r.ExitCode)).
			WithContext("validation_tail", tail)
	}

	slog.Info("Validation passed",
		logfields.BuildID(build.ID),
		slog.Int("phases", len(results)))
	return orchestrator.Result{Payload: payload}, nil
}

func (s *ValidateStage) saveResults(ctx context.Context, buildID string, results []validator.Result) error {
	for _, r := range results {
		v := &model.Validation{
			ID:            uuid.New().String(),
			BuildID:       buildID,
			Type:          model.ValidationType(r.Phase),
			ExitCode:      r.ExitCode,
			StdoutTail:    r.StdoutTail,
			StderrTail:    r.StderrTail,
			ContextLoaded: r.ContextStarted,
		}
		if err := s.store.SaveValidation(ctx, v); err != nil {
			return err
		}
	}
	return nil
}
