package stages

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/notify"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/store"
)

// NotifyStage emits the terminal notification for a build.
type NotifyStage struct {
	store    *store.Store
	notifier *notify.Notifier
}

// NewNotifyStage builds the notify handler.
func NewNotifyStage(s *store.Store, n *notify.Notifier) *NotifyStage {
	return &NotifyStage{store: s, notifier: n}
}

func (s *NotifyStage) Execute(ctx context.Context, build *model.Build, task *model.Task) (orchestrator.Result, error) {
	success := build.Status == model.BuildCompleted

	prURL := ""
	if pr, err := s.store.GetPullRequest(ctx, build.ID); err == nil && pr != nil {
		prURL = pr.URL
	}

	var message string
	switch build.Status {
	case model.BuildCompleted:
		message = fmt.Sprintf("automatic fix for %s #%d validated and submitted for review", build.Job, build.BuildNumber)
	case model.BuildManualIntervention:
		message = fmt.Sprintf("automatic repair of %s #%d gave up after repeated validation failures", build.Job, build.BuildNumber)
	default:
		message = fmt.Sprintf("automatic repair of %s #%d failed", build.Job, build.BuildNumber)
	}

	if err := s.notifier.BuildFinished(ctx, build, success, message, prURL); err != nil {
		return orchestrator.Result{}, err
	}
	return orchestrator.Result{}, nil
}
