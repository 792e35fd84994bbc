// Package model defines the persistent entities of the fix pipeline.
// Build is the owning aggregate; all other entities reference it by id
// and are loaded on demand. No entity holds a back-reference.
package model

import "time"

// BuildStatus represents the lifecycle state of a Build.
type BuildStatus string

const (
	BuildProcessing         BuildStatus = "processing"
	BuildCompleted          BuildStatus = "completed"
	BuildFailed             BuildStatus = "failed"
	BuildManualIntervention BuildStatus = "manual_intervention_required"
)

// TaskType identifies a pipeline stage.
type TaskType string

const (
	TaskPlan     TaskType = "plan"
	TaskRetrieve TaskType = "retrieve"
	TaskCodeFix  TaskType = "code_fix"
	TaskValidate TaskType = "validate"
	TaskCreatePR TaskType = "create_pr"
	TaskNotify   TaskType = "notify"
)

// Pipeline is the fixed stage order. Successor lookup lives in the
// orchestrator; this slice exists for iteration and display.
var Pipeline = []TaskType{TaskPlan, TaskRetrieve, TaskCodeFix, TaskValidate, TaskCreatePR, TaskNotify}

// TaskStatus represents the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Build represents one failed CI run submitted for repair.
// Unique on (Job, BuildNumber).
type Build struct {
	ID          string      `json:"id"`
	Job         string      `json:"job"`
	BuildNumber int         `json:"build_number"`
	Branch      string      `json:"branch"`
	RepoURL     string      `json:"repo_url"`
	CommitSHA   string      `json:"commit_sha"`
	WorkDir     string      `json:"work_dir,omitempty"` // assigned at retrieve
	Status      BuildStatus `json:"status"`
	Payload     []byte      `json:"-"` // original webhook body
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Task is one stage of work for a Build. For a given (Build, Type) at most
// one task is pending or processing at any time.
type Task struct {
	ID          string     `json:"id"`
	BuildID     string     `json:"build_id"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	Payload     []byte     `json:"payload,omitempty"` // stage-specific structured data
	Error       string     `json:"error,omitempty"`
	NotBefore   time.Time  `json:"not_before"`
	LeaseExpiry time.Time  `json:"lease_expiry,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CandidateFile is a source file the ranker believes likely to need
// modification, with its composite score and per-dimension sub-scores.
type CandidateFile struct {
	BuildID  string  `json:"build_id"`
	Path     string  `json:"path"` // relative to the build working directory
	Score    float64 `json:"score"`
	Semantic float64 `json:"semantic"`
	Depend   float64 `json:"depend"`
	Arch     float64 `json:"arch"`
	Hist     float64 `json:"hist"`
	Reason   string  `json:"reason"`
}

// Patch is a generated unified diff for one file in one Build.
type Patch struct {
	ID        string    `json:"id"`
	BuildID   string    `json:"build_id"`
	Path      string    `json:"path"`
	Diff      string    `json:"diff"`
	Applied   bool      `json:"applied"`
	ApplyLog  string    `json:"apply_log,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidationType distinguishes the build phases captured by a Validation.
type ValidationType string

const (
	ValidationCompile ValidationType = "compile"
	ValidationTest    ValidationType = "test"
	ValidationSkipped ValidationType = "skipped"
)

// Validation is the captured result of running the project build tool.
type Validation struct {
	ID            string         `json:"id"`
	BuildID       string         `json:"build_id"`
	Type          ValidationType `json:"type"`
	ExitCode      int            `json:"exit_code"`
	StdoutTail    string         `json:"stdout_tail,omitempty"`
	StderrTail    string         `json:"stderr_tail,omitempty"`
	ContextLoaded bool           `json:"context_loaded"` // framework startup observed in test phase
	CreatedAt     time.Time      `json:"created_at"`
}

// PRStatus is the lifecycle state of a created pull request.
type PRStatus string

const (
	PRCreated PRStatus = "created"
	PRMerged  PRStatus = "merged"
	PRClosed  PRStatus = "closed"
)

// PullRequest records the hosting-forge PR opened for a Build. Unique per Build.
type PullRequest struct {
	ID        string    `json:"id"`
	BuildID   string    `json:"build_id"`
	Branch    string    `json:"branch"` // source (fix) branch
	Number    int       `json:"number"`
	URL       string    `json:"url"`
	Status    PRStatus  `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is the terminal record emitted by the notify stage.
type Notification struct {
	ID        string    `json:"id"`
	BuildID   string    `json:"build_id"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// BuildReport is the decoded webhook body announcing a failed CI run.
// Logs carries the raw build output base64-encoded.
type BuildReport struct {
	Job         string `json:"job"`
	BuildNumber int    `json:"buildNumber"`
	Branch      string `json:"branch"`
	RepoURL     string `json:"repoUrl"`
	CommitSHA   string `json:"commitSha"`
	Status      string `json:"status"`
	Logs        string `json:"logs"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// FixBranch returns the fix branch name for a build id.
func FixBranch(buildID string) string {
	return "ci-fix/" + buildID
}
