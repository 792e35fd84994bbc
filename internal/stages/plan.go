// Package stages implements the six pipeline stage handlers. Handlers do
// the work for exactly one stage and report success or a classified error;
// scheduling decisions stay in the orchestrator.
package stages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"git.home.luguber.info/inful/fixbot/internal/classify"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
)

// PlanStage classifies the failure from the webhook's build log.
type PlanStage struct{}

// NewPlanStage builds the plan handler.
func NewPlanStage() *PlanStage { return &PlanStage{} }

func (s *PlanStage) Execute(ctx context.Context, build *model.Build, task *model.Task) (orchestrator.Result, error) {
	var report model.BuildReport
	if err := json.Unmarshal(build.Payload, &report); err != nil {
		return orchestrator.Result{}, apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.SeverityError, "decode build report")
	}

	logText, err := base64.StdEncoding.DecodeString(report.Logs)
	if err != nil {
		return orchestrator.Result{}, apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.SeverityError, "decode build log")
	}

	plan := classify.Classify(string(logText))
	slog.Info("Failure classified",
		logfields.BuildID(build.ID),
		logfields.Job(build.Job),
		logfields.BuildNumber(build.BuildNumber),
		slog.Int("errors", len(plan.Errors)),
		slog.String("summary", plan.Summary()))

	return orchestrator.Result{Payload: orchestrator.Payload{Plan: plan, Round: 1}}, nil
}
