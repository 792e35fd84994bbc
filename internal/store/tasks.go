package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fixbot/internal/model"
)

// EnqueueTask creates a pending task for (buildID, taskType). When a task of
// that type is already pending or processing for the build the call is a
// no-op and the existing task is returned with created=false, preserving the
// at-most-one-active invariant. Completed or failed predecessors do not block
// a new enqueue (the validate stage legitimately re-enqueues code_fix).
func (s *Store) EnqueueTask(ctx context.Context, buildID string, taskType model.TaskType, payload []byte, maxAttempts int) (*model.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE build_id = ? AND type = ? AND status IN (?, ?) LIMIT 1`,
		buildID, string(taskType), string(model.TaskPending), string(model.TaskProcessing))
	var existingID string
	switch err := row.Scan(&existingID); {
	case err == nil:
		_ = tx.Rollback()
		existing, gerr := s.getTask(ctx, existingID)
		return existing, false, gerr
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, fmt.Errorf("check active task: %w", err)
	}

	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := time.Now()
	t := &model.Task{
		ID:          uuid.New().String(),
		BuildID:     buildID,
		Type:        taskType,
		Status:      model.TaskPending,
		MaxAttempts: maxAttempts,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, build_id, type, status, attempt, max_attempts, payload, error, not_before, lease_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, '', 0, 0, ?, ?)`,
		t.ID, t.BuildID, string(t.Type), string(t.Status), t.MaxAttempts, t.Payload, now.Unix(), now.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit enqueue: %w", err)
	}
	return t, true, nil
}

// ClaimNextTask atomically claims the oldest ready pending task: its status
// moves to processing and a lease deadline is set. Returns (nil, nil) when no
// task is ready.
func (s *Store) ClaimNextTask(ctx context.Context, now time.Time, lease time.Duration) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id FROM tasks
		 WHERE status = ? AND not_before <= ?
		 ORDER BY created_at, id LIMIT 1`,
		string(model.TaskPending), now.Unix())
	var id string
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select ready task: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, lease_expires_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.TaskProcessing), now.Add(lease).Unix(), now.Unix(), id, string(model.TaskPending))
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		// lost the race inside the same process; caller simply polls again
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.getTask(ctx, id)
}

// CompleteTask marks a task completed.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = '', lease_expires_at = 0, updated_at = ? WHERE id = ?`,
		string(model.TaskCompleted), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask marks a task failed with its final error message.
func (s *Store) FailTask(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, lease_expires_at = 0, updated_at = ? WHERE id = ?`,
		string(model.TaskFailed), errMsg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// RescheduleTask returns a task to pending with an incremented attempt
// counter and a not-before timestamp for backoff.
func (s *Store) RescheduleTask(ctx context.Context, id, errMsg string, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempt = attempt + 1, error = ?, not_before = ?, lease_expires_at = 0, updated_at = ?
		 WHERE id = ?`,
		string(model.TaskPending), errMsg, notBefore.Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return nil
}

// ReapExpiredLeases returns processing tasks whose lease expired before now
// to pending. The attempt counter is left untouched: a crashed worker is not
// a stage failure. Returns the number of reclaimed tasks.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, lease_expires_at = 0, updated_at = ?
		 WHERE status = ? AND lease_expires_at > 0 AND lease_expires_at < ?`,
		string(model.TaskPending), now.Unix(), string(model.TaskProcessing), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("reap leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return s.getTask(ctx, id)
}

func (s *Store) getTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, build_id, type, status, attempt, max_attempts, payload, error, not_before, lease_expires_at, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns every task for a build in creation order.
func (s *Store) ListTasks(ctx context.Context, buildID string) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, type, status, attempt, max_attempts, payload, error, not_before, lease_expires_at, created_at, updated_at
		 FROM tasks WHERE build_id = ? ORDER BY created_at, id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountActiveTasks returns the number of pending or processing tasks of the
// given type for a build. Used to assert the one-active-task invariant.
func (s *Store) CountActiveTasks(ctx context.Context, buildID string, taskType model.TaskType) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE build_id = ? AND type = ? AND status IN (?, ?)`,
		buildID, string(taskType), string(model.TaskPending), string(model.TaskProcessing))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return n, nil
}

// QueueDepth returns the number of pending plus processing tasks across
// all builds. Feeds the queue-depth gauge.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status IN (?, ?)`,
		string(model.TaskPending), string(model.TaskProcessing))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var typ, status string
	var notBefore, lease, created, updated int64
	err := row.Scan(&t.ID, &t.BuildID, &typ, &status, &t.Attempt, &t.MaxAttempts,
		&t.Payload, &t.Error, &notBefore, &lease, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.Type = model.TaskType(typ)
	t.Status = model.TaskStatus(status)
	t.NotBefore = time.Unix(notBefore, 0)
	if lease > 0 {
		t.LeaseExpiry = time.Unix(lease, 0)
	}
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return &t, nil
}
