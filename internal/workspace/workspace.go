// Package workspace manages per-build working directories under a
// configured root and sweeps expired ones on a schedule.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"

	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
)

// sweepInterval is how often the retention sweep runs.
const sweepInterval = time.Hour

// Manager owns the working-directory root.
type Manager struct {
	root      string
	retention time.Duration
	scheduler gocron.Scheduler
}

// New creates the root directory if needed.
func New(root string, retention time.Duration) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryStore, apperrors.SeverityError, "create workspace root")
	}
	return &Manager{root: root, retention: retention}, nil
}

// Dir returns the working directory path for a build without creating it.
func (m *Manager) Dir(buildID string) string {
	return filepath.Join(m.root, buildID)
}

// Ensure creates and returns the working directory for a build.
func (m *Manager) Ensure(buildID string) (string, error) {
	dir := m.Dir(buildID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryStore, apperrors.SeverityError, "create build workspace")
	}
	return dir, nil
}

// Remove deletes a build's working directory.
func (m *Manager) Remove(buildID string) error {
	return os.RemoveAll(m.Dir(buildID))
}

// Sweep removes build directories whose last modification is older than the
// retention window. Returns the number of directories removed.
func (m *Manager) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CategoryStore, apperrors.SeverityError, "read workspace root")
	}

	removed := 0
	cutoff := now.Add(-m.retention)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(m.root, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove expired workspace",
				logfields.Path(dir), logfields.Error(err))
			continue
		}
		removed++
		slog.Info("Removed expired workspace", logfields.Path(dir))
	}
	return removed, nil
}

// StartSweeper schedules the periodic retention sweep.
func (m *Manager) StartSweeper() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweep scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(func() {
			if _, err := m.Sweep(time.Now()); err != nil {
				slog.Error("Workspace sweep failed", logfields.Error(err))
			}
		}),
		gocron.WithName("workspace-sweep"),
	)
	if err != nil {
		return fmt.Errorf("schedule workspace sweep: %w", err)
	}
	m.scheduler = s
	s.Start()
	return nil
}

// StopSweeper shuts the sweep scheduler down.
func (m *Manager) StopSweeper() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}
