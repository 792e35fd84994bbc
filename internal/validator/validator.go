// Package validator runs the project's native build tool against the
// patched working tree and reports per-phase outcomes.
package validator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
)

// Phase is one build-tool invocation.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseTest    Phase = "test"
)

// tailLines bounds how much captured output is kept per stream.
const tailLines = 300

// Result is the outcome of a single phase.
type Result struct {
	Phase          Phase
	ExitCode       int
	StdoutTail     string
	StderrTail     string
	ContextStarted bool // framework startup observed in the output
	TimedOut       bool
	Duration       time.Duration
}

// OK reports whether the phase passed.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// Validator invokes build tools with a per-phase timeout.
type Validator struct {
	Timeout  time.Duration
	RunTests bool

	// command resolves the invocation for a phase; swapped in tests.
	command func(tool analyzer.BuildTool, phase Phase, dir string) (string, []string)
}

// New builds a Validator.
func New(timeout time.Duration, runTests bool) *Validator {
	return &Validator{Timeout: timeout, RunTests: runTests, command: commandFor}
}

// contextStartedRe matches Spring Boot's startup banner line in test output.
var contextStartedRe = regexp.MustCompile(`Started \w+ in [\d.]+ seconds|Initializing Spring|Refreshing org\.springframework`)

// Run executes compile and, when enabled and compile passed, test. One
// Result per executed phase. An error is returned only when the tool could
// not be started at all.
func (v *Validator) Run(ctx context.Context, dir string, tool analyzer.BuildTool) ([]Result, error) {
	if tool == analyzer.BuildToolUnknown {
		return nil, apperrors.New(apperrors.CategoryBuildTool, apperrors.SeverityError, "no supported build tool detected")
	}

	compile, err := v.runPhase(ctx, dir, tool, PhaseCompile)
	if err != nil {
		return nil, err
	}
	results := []Result{compile}

	if v.RunTests && compile.OK() {
		test, err := v.runPhase(ctx, dir, tool, PhaseTest)
		if err != nil {
			return results, err
		}
		results = append(results, test)
	}
	return results, nil
}

func (v *Validator) runPhase(ctx context.Context, dir string, tool analyzer.BuildTool, phase Phase) (Result, error) {
	name, args := v.command(tool, phase, dir)

	phaseCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	cmd := exec.CommandContext(phaseCtx, name, args...)
	cmd.Dir = dir
	// The build tool forks workers; kill the whole process group on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Phase:      phase,
		StdoutTail: tail(stdout.String()),
		StderrTail: tail(stderr.String()),
		Duration:   time.Since(start),
	}
	res.ContextStarted = contextStartedRe.MatchString(res.StdoutTail) || contextStartedRe.MatchString(res.StderrTail)

	switch {
	case runErr == nil:
		res.ExitCode = 0
	case phaseCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// The binary itself could not be started.
			return res, apperrors.Wrap(runErr, apperrors.CategoryBuildTool, apperrors.SeverityError, "start "+name)
		}
	}

	slog.Info("Validation phase finished",
		logfields.Path(dir),
		logfields.Stage(string(phase)),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Bool("context_started", res.ContextStarted),
		logfields.DurationMS(res.Duration))
	return res, nil
}

func commandFor(tool analyzer.BuildTool, phase Phase, dir string) (string, []string) {
	switch tool {
	case analyzer.BuildToolMaven:
		if phase == PhaseCompile {
			return "mvn", []string{"-B", "-DskipTests", "compile"}
		}
		return "mvn", []string{"-B", "test"}
	default:
		bin := "gradle"
		if wrapper := filepath.Join(dir, "gradlew"); fileExists(wrapper) {
			bin = wrapper
		}
		if phase == PhaseCompile {
			return bin, []string{"compileJava"}
		}
		return bin, []string{"test"}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// tail keeps the last tailLines lines of the stream.
func tail(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n")
}
