package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID     = "build_id"
	KeyJob         = "job"
	KeyBuildNumber = "build_number"
	KeyTaskID      = "task_id"
	KeyTaskType    = "task_type"
	KeyTaskStatus  = "task_status"
	KeyAttempt     = "attempt"
	KeyStage       = "stage"
	KeyDurationMS  = "duration_ms"
	KeyRepo        = "repository"
	KeyBranch      = "branch"
	KeyCommit      = "commit"
	KeyPath        = "path"
	KeyURL         = "url"
	KeyRequestID   = "request_id"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Job(name string) slog.Attr       { return slog.String(KeyJob, name) }
func BuildNumber(n int) slog.Attr     { return slog.Int(KeyBuildNumber, n) }
func TaskID(id string) slog.Attr      { return slog.String(KeyTaskID, id) }
func TaskType(t string) slog.Attr     { return slog.String(KeyTaskType, t) }
func TaskStatus(s string) slog.Attr   { return slog.String(KeyTaskStatus, s) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Repository(r string) slog.Attr   { return slog.String(KeyRepo, r) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Commit(sha string) slog.Attr     { return slog.String(KeyCommit, sha) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func RequestID(id string) slog.Attr   { return slog.String(KeyRequestID, id) }
func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000.0)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
