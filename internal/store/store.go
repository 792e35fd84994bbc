// Package store persists builds, tasks, candidates, patches, validations,
// pull requests, and notifications in SQLite. It is the sole coordination
// surface between orchestrator workers: every state transition is a single
// transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/fixbot/internal/model"
)

// Store wraps a SQLite database holding all pipeline state.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between claim transactions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		build_number INTEGER NOT NULL,
		branch TEXT NOT NULL,
		repo_url TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		work_dir TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		payload BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(job, build_number)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		payload BLOB,
		error TEXT NOT NULL DEFAULT '',
		not_before INTEGER NOT NULL DEFAULT 0,
		lease_expires_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_type ON tasks(status, type);
	CREATE INDEX IF NOT EXISTS idx_tasks_build ON tasks(build_id);

	CREATE TABLE IF NOT EXISTS candidate_files (
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		path TEXT NOT NULL,
		score REAL NOT NULL,
		semantic REAL NOT NULL,
		depend REAL NOT NULL,
		arch REAL NOT NULL,
		hist REAL NOT NULL,
		reason TEXT NOT NULL,
		PRIMARY KEY (build_id, position)
	);

	CREATE TABLE IF NOT EXISTS patches (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		diff TEXT NOT NULL,
		applied INTEGER NOT NULL DEFAULT 0,
		apply_log TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patches_build ON patches(build_id);

	CREATE TABLE IF NOT EXISTS validations (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		stdout_tail TEXT NOT NULL DEFAULT '',
		stderr_tail TEXT NOT NULL DEFAULT '',
		context_loaded INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_validations_build ON validations(build_id);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL UNIQUE REFERENCES builds(id) ON DELETE CASCADE,
		branch TEXT NOT NULL,
		number INTEGER NOT NULL,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		success INTEGER NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateBuild inserts a build, generating an id when absent. The operation is
// idempotent on (job, build_number): when a build already exists it is
// returned unchanged and created is false.
func (s *Store) CreateBuild(ctx context.Context, b *model.Build) (*model.Build, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.getBuildByJob(ctx, b.Job, b.BuildNumber); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BuildProcessing
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, job, build_number, branch, repo_url, commit_sha, work_dir, status, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Job, b.BuildNumber, b.Branch, b.RepoURL, b.CommitSHA, b.WorkDir, string(b.Status), b.Payload, now.Unix(), now.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("insert build: %w", err)
	}
	return b, true, nil
}

// GetBuild loads a build by id.
func (s *Store) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job, build_number, branch, repo_url, commit_sha, work_dir, status, payload, created_at, updated_at
		 FROM builds WHERE id = ?`, id)
	return scanBuild(row)
}

// GetBuildByJob loads a build by its (job, build_number) identity.
func (s *Store) GetBuildByJob(ctx context.Context, job string, number int) (*model.Build, error) {
	return s.getBuildByJob(ctx, job, number)
}

func (s *Store) getBuildByJob(ctx context.Context, job string, number int) (*model.Build, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job, build_number, branch, repo_url, commit_sha, work_dir, status, payload, created_at, updated_at
		 FROM builds WHERE job = ? AND build_number = ?`, job, number)
	return scanBuild(row)
}

func scanBuild(row *sql.Row) (*model.Build, error) {
	var b model.Build
	var status string
	var created, updated int64
	err := row.Scan(&b.ID, &b.Job, &b.BuildNumber, &b.Branch, &b.RepoURL, &b.CommitSHA,
		&b.WorkDir, &status, &b.Payload, &created, &updated)
	if err != nil {
		return nil, err
	}
	b.Status = model.BuildStatus(status)
	b.CreatedAt = time.Unix(created, 0)
	b.UpdatedAt = time.Unix(updated, 0)
	return &b, nil
}

// UpdateBuildStatus transitions a build to the given status.
func (s *Store) UpdateBuildStatus(ctx context.Context, id string, status model.BuildStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE builds SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update build status: %w", err)
	}
	return nil
}

// SetBuildWorkDir records the working directory assigned at retrieve time.
func (s *Store) SetBuildWorkDir(ctx context.Context, id, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE builds SET work_dir = ?, updated_at = ? WHERE id = ?`,
		dir, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set build work dir: %w", err)
	}
	return nil
}

// DeleteBuild removes a build and, via foreign keys, every owned row.
func (s *Store) DeleteBuild(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete build: %w", err)
	}
	return nil
}
