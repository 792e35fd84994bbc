package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fixbot/internal/model"
)

func TestEnqueueIdempotentWhileActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s)

	t1, created, err := s.EnqueueTask(ctx, b.ID, model.TaskPlan, []byte(`{"a":1}`), 3)
	require.NoError(t, err)
	require.True(t, created)

	// Second enqueue while the first is pending is a no-op.
	t2, created, err := s.EnqueueTask(ctx, b.ID, model.TaskPlan, nil, 3)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, t1.ID, t2.ID)

	n, err := s.CountActiveTasks(ctx, b.ID, model.TaskPlan)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Still a no-op once claimed (processing).
	claimed, err := s.ClaimNextTask(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, created, err = s.EnqueueTask(ctx, b.ID, model.TaskPlan, nil, 3)
	require.NoError(t, err)
	assert.False(t, created)

	// After completion a fresh task of the same type may be enqueued
	// (validate legitimately re-enqueues code_fix).
	require.NoError(t, s.CompleteTask(ctx, claimed.ID))
	t3, created, err := s.EnqueueTask(ctx, b.ID, model.TaskPlan, nil, 3)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, t1.ID, t3.ID)
}

func TestClaimRespectsNotBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s)

	task, _, err := s.EnqueueTask(ctx, b.ID, model.TaskCodeFix, nil, 3)
	require.NoError(t, err)
	require.NoError(t, s.RescheduleTask(ctx, task.ID, "transient", time.Now().Add(time.Hour)))

	claimed, err := s.ClaimNextTask(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed, "backoff window must gate claiming")

	claimed, err = s.ClaimNextTask(ctx, time.Now().Add(2*time.Hour), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 1, claimed.Attempt)
	assert.Equal(t, "transient", claimed.Error)
}

func TestRescheduleIncrementsAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s)

	task, _, err := s.EnqueueTask(ctx, b.ID, model.TaskRetrieve, nil, 3)
	require.NoError(t, err)
	assert.Zero(t, task.Attempt)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.RescheduleTask(ctx, task.ID, "again", time.Now()))
		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.Attempt)
	}
}

func TestFailTaskTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s)

	task, _, err := s.EnqueueTask(ctx, b.ID, model.TaskCreatePR, nil, 3)
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, task.ID, "auth (error): 401"))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	assert.Equal(t, "auth (error): 401", got.Error)

	claimed, err := s.ClaimNextTask(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestReaperRestoresExpiredLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s)

	task, _, err := s.EnqueueTask(ctx, b.ID, model.TaskCodeFix, nil, 3)
	require.NoError(t, err)

	claimed, err := s.ClaimNextTask(ctx, time.Now(), 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Lease still live: nothing reclaimed.
	n, err := s.ReapExpiredLeases(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Simulate crash: reap after the lease deadline passes.
	n, err = s.ReapExpiredLeases(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)
	assert.Zero(t, got.Attempt, "reaper must not count a crash as a stage failure")
}
