// Package orchestrator drives each build through the fixed pipeline:
// plan, retrieve, code_fix, validate, create_pr, notify. It owns all task
// state transitions; stage handlers never enqueue successors themselves.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/fixbot/internal/classify"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/metrics"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/retry"
	"git.home.luguber.info/inful/fixbot/internal/store"
)

const (
	// leaseDuration is how long a claimed task stays invisible before the
	// reaper hands it back to the queue.
	leaseDuration = 60 * time.Second

	// reapInterval is how often expired leases are reclaimed.
	reapInterval = 15 * time.Second

	// pollInterval is the idle wait between claim attempts.
	pollInterval = 500 * time.Millisecond
)

// Payload is the structured data passed between pipeline stages through
// task rows. Stages fill in what their successor needs.
type Payload struct {
	Plan *classify.Plan `json:"plan,omitempty"`

	// ValidationTail carries the fresh error output of a failed validation
	// back into the next code_fix round.
	ValidationTail string `json:"validation_tail,omitempty"`

	// Round counts validate/code_fix loops for a build, starting at 1.
	Round int `json:"round,omitempty"`
}

// DecodePayload unmarshals a task payload; an empty payload is valid.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "decode task payload")
	}
	return p, nil
}

// Encode marshals the payload for storage.
func (p Payload) Encode() []byte {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return data
}

// Result is what a stage handler returns on success. Payload becomes the
// successor task's payload.
type Result struct {
	Payload Payload
}

// Handler executes one pipeline stage for a build.
type Handler interface {
	Execute(ctx context.Context, build *model.Build, task *model.Task) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, build *model.Build, task *model.Task) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, build *model.Build, task *model.Task) (Result, error) {
	return f(ctx, build, task)
}

// Config tunes the orchestrator.
type Config struct {
	Workers     int
	MaxAttempts int
}

// Orchestrator owns the worker pool and the pipeline state machine.
type Orchestrator struct {
	store    *store.Store
	handlers map[model.TaskType]Handler
	policy   retry.Policy
	recorder metrics.Recorder
	cfg      Config

	workers workerGroup
}

// New builds an Orchestrator. Handlers are registered with Register before
// Run is called.
func New(s *store.Store, cfg Config, recorder metrics.Recorder) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		store:    s,
		handlers: map[model.TaskType]Handler{},
		policy:   retry.DefaultPolicy(),
		recorder: recorder,
		cfg:      cfg,
	}
}

// Register installs the handler for a task type.
func (o *Orchestrator) Register(taskType model.TaskType, h Handler) {
	o.handlers[taskType] = h
}

// Enqueue creates the pending task for (buildID, taskType). Idempotent
// while a task of that type is already pending or processing.
func (o *Orchestrator) Enqueue(ctx context.Context, buildID string, taskType model.TaskType, payload Payload) error {
	task, created, err := o.store.EnqueueTask(ctx, buildID, taskType, payload.Encode(), o.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if created {
		slog.Info("Task enqueued",
			logfields.BuildID(buildID),
			logfields.TaskID(task.ID),
			logfields.TaskType(string(taskType)))
	}
	return nil
}

// Run starts the worker pool and the lease reaper and blocks until ctx is
// canceled and all in-flight tasks have finished.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("Orchestrator starting", slog.Int("workers", o.cfg.Workers))

	sched, err := gocron.NewScheduler()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "create reaper scheduler")
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(reapInterval),
		gocron.NewTask(func() { o.reapTick(context.Background()) }),
		gocron.WithName("lease-reaper"),
	); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "schedule lease reaper")
	}
	sched.Start()

	for i := 0; i < o.cfg.Workers; i++ {
		o.workers.Go(func() { o.workerLoop(ctx) })
	}

	<-ctx.Done()
	_ = sched.Shutdown()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return o.workers.StopAndWait(stopCtx)
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := o.store.ClaimNextTask(ctx, time.Now(), leaseDuration)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("Claim failed", logfields.Error(err))
			}
			sleepCtx(ctx, pollInterval)
			continue
		}
		if task == nil {
			sleepCtx(ctx, pollInterval)
			continue
		}
		o.process(ctx, task)
	}
}

// reapTick reclaims expired leases and refreshes the queue-depth gauge.
func (o *Orchestrator) reapTick(ctx context.Context) {
	if n, err := o.store.ReapExpiredLeases(ctx, time.Now()); err != nil {
		slog.Error("Lease reap failed", logfields.Error(err))
	} else if n > 0 {
		slog.Warn("Reclaimed expired leases", slog.Int("count", n))
	}
	if depth, err := o.store.QueueDepth(ctx); err == nil {
		o.recorder.SetQueueDepth(depth)
	}
}

// process dispatches one claimed task and applies the outcome. State
// transitions use a cancel-free context so a shutdown mid-task still
// records the result.
func (o *Orchestrator) process(ctx context.Context, task *model.Task) {
	sctx := context.WithoutCancel(ctx)
	log := slog.With(
		logfields.BuildID(task.BuildID),
		logfields.TaskID(task.ID),
		logfields.TaskType(string(task.Type)),
		logfields.Attempt(task.Attempt))

	build, err := o.store.GetBuild(sctx, task.BuildID)
	if err != nil {
		log.Error("Build lookup failed", logfields.Error(err))
		_ = o.store.FailTask(sctx, task.ID, "build not found: "+err.Error())
		return
	}

	handler, ok := o.handlers[task.Type]
	if !ok {
		log.Error("No handler registered")
		_ = o.store.FailTask(sctx, task.ID, "no handler for task type")
		return
	}

	start := time.Now()
	res, execErr := handler.Execute(ctx, build, task)
	o.recorder.ObserveStageDuration(string(task.Type), time.Since(start))

	if execErr == nil {
		if err := o.store.CompleteTask(sctx, task.ID); err != nil {
			log.Error("Complete failed", logfields.Error(err))
			return
		}
		o.recorder.IncTaskResult(string(task.Type), metrics.ResultSuccess)
		log.Info("Task completed", logfields.DurationMS(time.Since(start)))
		o.advance(sctx, build, task, res)
		return
	}

	o.handleFailure(sctx, build, task, execErr, log)
}

// advance enqueues the pipeline successor after a completed stage.
func (o *Orchestrator) advance(ctx context.Context, build *model.Build, task *model.Task, res Result) {
	var err error
	switch task.Type {
	case model.TaskPlan:
		err = o.Enqueue(ctx, build.ID, model.TaskRetrieve, res.Payload)
	case model.TaskRetrieve:
		err = o.Enqueue(ctx, build.ID, model.TaskCodeFix, res.Payload)
	case model.TaskCodeFix:
		err = o.Enqueue(ctx, build.ID, model.TaskValidate, res.Payload)
	case model.TaskValidate:
		err = o.Enqueue(ctx, build.ID, model.TaskCreatePR, res.Payload)
	case model.TaskCreatePR:
		if serr := o.store.UpdateBuildStatus(ctx, build.ID, model.BuildCompleted); serr != nil {
			slog.Error("Build status update failed", logfields.BuildID(build.ID), logfields.Error(serr))
		}
		o.recorder.IncBuildOutcome(string(model.BuildCompleted))
		err = o.Enqueue(ctx, build.ID, model.TaskNotify, res.Payload)
	case model.TaskNotify:
		// terminal
	}
	if err != nil {
		slog.Error("Successor enqueue failed",
			logfields.BuildID(build.ID),
			logfields.TaskType(string(task.Type)),
			logfields.Error(err))
	}
}

// handleFailure applies the retry policy, the validate/code_fix loop, and
// terminal build transitions.
func (o *Orchestrator) handleFailure(ctx context.Context, build *model.Build, task *model.Task, execErr error, log *slog.Logger) {
	// A failed validation is not retried in place: the fix loop goes back
	// through code_fix with the fresh error tail.
	if task.Type == model.TaskValidate && apperrors.IsCategory(execErr, apperrors.CategoryBuildTool) {
		o.handleValidationFailure(ctx, build, task, execErr, log)
		return
	}

	failures := task.Attempt + 1
	if apperrors.IsRetryable(execErr) && failures < task.MaxAttempts {
		delay := o.policy.Delay(failures)
		if err := o.store.RescheduleTask(ctx, task.ID, execErr.Error(), time.Now().Add(delay)); err != nil {
			log.Error("Reschedule failed", logfields.Error(err))
			return
		}
		o.recorder.IncTaskResult(string(task.Type), metrics.ResultRetried)
		log.Warn("Task rescheduled",
			logfields.DurationMS(delay),
			logfields.Error(execErr))
		return
	}

	if err := o.store.FailTask(ctx, task.ID, execErr.Error()); err != nil {
		log.Error("Fail transition failed", logfields.Error(err))
		return
	}
	o.recorder.IncTaskResult(string(task.Type), metrics.ResultFailed)
	log.Error("Task failed terminally", logfields.Error(execErr))

	if task.Type == model.TaskNotify {
		return
	}
	if err := o.store.UpdateBuildStatus(ctx, build.ID, model.BuildFailed); err != nil {
		log.Error("Build status update failed", logfields.Error(err))
	}
	o.recorder.IncBuildOutcome(string(model.BuildFailed))

	// The notification stage still runs for failed builds.
	if err := o.Enqueue(ctx, build.ID, model.TaskNotify, Payload{}); err != nil {
		log.Error("Notify enqueue failed", logfields.Error(err))
	}
}

// handleValidationFailure closes the validate/code_fix loop: the validate
// task is terminal for its round, and either a fresh code_fix is enqueued
// with the enriched error context or the build escalates to a human.
func (o *Orchestrator) handleValidationFailure(ctx context.Context, build *model.Build, task *model.Task, execErr error, log *slog.Logger) {
	if err := o.store.FailTask(ctx, task.ID, execErr.Error()); err != nil {
		log.Error("Fail transition failed", logfields.Error(err))
		return
	}
	o.recorder.IncTaskResult(string(task.Type), metrics.ResultFailed)

	payload, perr := DecodePayload(task.Payload)
	if perr != nil {
		log.Error("Validate payload unreadable", logfields.Error(perr))
	}
	round := payload.Round
	if round < 1 {
		round = 1
	}

	if round >= task.MaxAttempts {
		log.Warn("Validation rounds exhausted, escalating", slog.Int("round", round))
		if err := o.store.UpdateBuildStatus(ctx, build.ID, model.BuildManualIntervention); err != nil {
			log.Error("Build status update failed", logfields.Error(err))
		}
		o.recorder.IncBuildOutcome(string(model.BuildManualIntervention))
		if err := o.Enqueue(ctx, build.ID, model.TaskNotify, Payload{}); err != nil {
			log.Error("Notify enqueue failed", logfields.Error(err))
		}
		return
	}

	next := Payload{
		Plan:           payload.Plan,
		ValidationTail: validationTail(execErr),
		Round:          round + 1,
	}
	log.Info("Re-enqueueing code_fix after failed validation", slog.Int("round", round+1))
	if err := o.Enqueue(ctx, build.ID, model.TaskCodeFix, next); err != nil {
		log.Error("Code_fix enqueue failed", logfields.Error(err))
	}
}

// validationTail pulls the captured build-tool output out of a validation
// error's context.
func validationTail(err error) string {
	var fe *apperrors.FixbotError
	if errors.As(err, &fe) {
		if tail, ok := fe.Context["validation_tail"].(string); ok {
			return tail
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
