package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/notify"
)

func TestNotifyCompletedBuild(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ctx := context.Background()

	_, _, err := s.CreatePullRequest(ctx, &model.PullRequest{
		BuildID: b.ID, Branch: model.FixBranch(b.ID), Number: 7, URL: "https://example.com/pulls/7",
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateBuildStatus(ctx, b.ID, model.BuildCompleted))
	b.Status = model.BuildCompleted

	stage := NewNotifyStage(s, notify.New(s, nil))
	_, err = stage.Execute(ctx, b, &model.Task{})
	require.NoError(t, err)

	notifications, err := s.ListNotifications(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.True(t, notifications[0].Success)
	assert.Contains(t, notifications[0].Message, "submitted for review")
}

func TestNotifyEscalatedBuild(t *testing.T) {
	s := newTestStore(t)
	b := newTestBuild(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateBuildStatus(ctx, b.ID, model.BuildManualIntervention))
	b.Status = model.BuildManualIntervention

	stage := NewNotifyStage(s, notify.New(s, nil))
	_, err := stage.Execute(ctx, b, &model.Task{})
	require.NoError(t, err)

	notifications, err := s.ListNotifications(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.False(t, notifications[0].Success)
	assert.Contains(t, notifications[0].Message, "gave up")
}
