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

// SaveCandidates replaces the candidate list for a build, preserving order.
func (s *Store) SaveCandidates(ctx context.Context, buildID string, candidates []model.CandidateFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save candidates: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_files WHERE build_id = ?`, buildID); err != nil {
		return fmt.Errorf("clear candidates: %w", err)
	}
	for i, c := range candidates {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO candidate_files (build_id, position, path, score, semantic, depend, arch, hist, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			buildID, i, c.Path, c.Score, c.Semantic, c.Depend, c.Arch, c.Hist, c.Reason)
		if err != nil {
			return fmt.Errorf("insert candidate %s: %w", c.Path, err)
		}
	}
	return tx.Commit()
}

// ListCandidates returns the candidate list for a build in rank order.
func (s *Store) ListCandidates(ctx context.Context, buildID string) ([]model.CandidateFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, score, semantic, depend, arch, hist, reason
		 FROM candidate_files WHERE build_id = ? ORDER BY position`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateFile
	for rows.Next() {
		c := model.CandidateFile{BuildID: buildID}
		if err := rows.Scan(&c.Path, &c.Score, &c.Semantic, &c.Depend, &c.Arch, &c.Hist, &c.Reason); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SavePatch persists a generated patch; the id is assigned when empty.
func (s *Store) SavePatch(ctx context.Context, p *model.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patches (id, build_id, path, diff, applied, apply_log, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BuildID, p.Path, p.Diff, boolInt(p.Applied), p.ApplyLog, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert patch: %w", err)
	}
	return nil
}

// MarkPatchApplied flips the applied flag and records the apply log.
func (s *Store) MarkPatchApplied(ctx context.Context, id string, applied bool, applyLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE patches SET applied = ?, apply_log = ? WHERE id = ?`,
		boolInt(applied), applyLog, id)
	if err != nil {
		return fmt.Errorf("mark patch applied: %w", err)
	}
	return nil
}

// ListPatches returns all patches for a build in creation order.
func (s *Store) ListPatches(ctx context.Context, buildID string) ([]*model.Patch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, path, diff, applied, apply_log, created_at
		 FROM patches WHERE build_id = ? ORDER BY created_at, id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	defer rows.Close()

	var out []*model.Patch
	for rows.Next() {
		var p model.Patch
		var applied int
		var created int64
		if err := rows.Scan(&p.ID, &p.BuildID, &p.Path, &p.Diff, &applied, &p.ApplyLog, &created); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		p.Applied = applied != 0
		p.CreatedAt = time.Unix(created, 0)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AppliedPatchCount returns the number of applied patches for a build.
func (s *Store) AppliedPatchCount(ctx context.Context, buildID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patches WHERE build_id = ? AND applied = 1`, buildID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count applied patches: %w", err)
	}
	return n, nil
}

// SaveValidation persists a validation result.
func (s *Store) SaveValidation(ctx context.Context, v *model.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validations (id, build_id, type, exit_code, stdout_tail, stderr_tail, context_loaded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.BuildID, string(v.Type), v.ExitCode, v.StdoutTail, v.StderrTail, boolInt(v.ContextLoaded), v.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

// ListValidations returns all validation rows for a build, oldest first.
func (s *Store) ListValidations(ctx context.Context, buildID string) ([]*model.Validation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, type, exit_code, stdout_tail, stderr_tail, context_loaded, created_at
		 FROM validations WHERE build_id = ? ORDER BY created_at, id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	defer rows.Close()

	var out []*model.Validation
	for rows.Next() {
		var v model.Validation
		var typ string
		var loaded int
		var created int64
		if err := rows.Scan(&v.ID, &v.BuildID, &typ, &v.ExitCode, &v.StdoutTail, &v.StderrTail, &loaded, &created); err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		v.Type = model.ValidationType(typ)
		v.ContextLoaded = loaded != 0
		v.CreatedAt = time.Unix(created, 0)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// CreatePullRequest persists the PR row for a build. Exactly one PR may exist
// per build; when one already exists it is returned with created=false.
func (s *Store) CreatePullRequest(ctx context.Context, pr *model.PullRequest) (*model.PullRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.getPullRequest(ctx, pr.BuildID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	if pr.Status == "" {
		pr.Status = model.PRCreated
	}
	pr.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pull_requests (id, build_id, branch, number, url, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.BuildID, pr.Branch, pr.Number, pr.URL, string(pr.Status), pr.CreatedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("insert pull request: %w", err)
	}
	return pr, true, nil
}

// GetPullRequest loads the PR row for a build, or sql.ErrNoRows.
func (s *Store) GetPullRequest(ctx context.Context, buildID string) (*model.PullRequest, error) {
	return s.getPullRequest(ctx, buildID)
}

func (s *Store) getPullRequest(ctx context.Context, buildID string) (*model.PullRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, build_id, branch, number, url, status, created_at
		 FROM pull_requests WHERE build_id = ?`, buildID)
	var pr model.PullRequest
	var status string
	var created int64
	err := row.Scan(&pr.ID, &pr.BuildID, &pr.Branch, &pr.Number, &pr.URL, &status, &created)
	if err != nil {
		return nil, err
	}
	pr.Status = model.PRStatus(status)
	pr.CreatedAt = time.Unix(created, 0)
	return &pr, nil
}

// SaveNotification persists the terminal notification record for a build.
func (s *Store) SaveNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, build_id, success, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.BuildID, boolInt(n.Success), n.Message, n.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications for a build, oldest first.
func (s *Store) ListNotifications(ctx context.Context, buildID string) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, success, message, created_at
		 FROM notifications WHERE build_id = ? ORDER BY created_at, id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		var n model.Notification
		var success int
		var created int64
		if err := rows.Scan(&n.ID, &n.BuildID, &success, &n.Message, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Success = success != 0
		n.CreatedAt = time.Unix(created, 0)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
