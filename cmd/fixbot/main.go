package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/fixbot/internal/config"
	"git.home.luguber.info/inful/fixbot/internal/forge"
	"git.home.luguber.info/inful/fixbot/internal/git"
	"git.home.luguber.info/inful/fixbot/internal/llm"
	"git.home.luguber.info/inful/fixbot/internal/metrics"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/notify"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/secrets"
	"git.home.luguber.info/inful/fixbot/internal/server"
	"git.home.luguber.info/inful/fixbot/internal/stages"
	"git.home.luguber.info/inful/fixbot/internal/store"
	"git.home.luguber.info/inful/fixbot/internal/validator"
	"git.home.luguber.info/inful/fixbot/internal/workspace"
)

var CLI struct {
	Verbose bool `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the webhook server and the repair workers"`

	Run struct {
		File string `arg:"" help:"Path to a webhook payload JSON file" type:"existingfile"`
	} `cmd:"" help:"Process a single webhook payload from a file and exit"`

	Sweep struct{} `cmd:"" help:"Delete expired build workspaces and exit"`

	Version struct{} `cmd:"" help:"Print the version and exit"`
}

var version = "dev"

func main() {
	kctx := kong.Parse(&CLI)

	if kctx.Command() == "version" {
		fmt.Println("fixbot", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	setupLogging(cfg, CLI.Verbose)

	var runErr error
	switch kctx.Command() {
	case "serve":
		runErr = runServe(cfg)
	case "run <file>":
		runErr = runOnce(cfg, CLI.Run.File)
	case "sweep":
		runErr = runSweep(cfg)
	}
	if runErr != nil {
		slog.Error("fixbot exited with error", slog.Any("error", runErr))
		os.Exit(1)
	}
}

// setupLogging installs the default logger with secret redaction. Every
// credential from the configuration is masked before a record is written.
func setupLogging(cfg *config.Config, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	inner := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	redactor := secrets.NewRedactor(cfg.Secrets()...)
	slog.SetDefault(slog.New(secrets.NewRedactingHandler(inner, redactor)))
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	workspaces, err := workspace.New(cfg.WorkDir, cfg.WorkDirRetention)
	if err != nil {
		return err
	}
	if err := workspaces.StartSweeper(); err != nil {
		return err
	}
	defer func() { _ = workspaces.StopSweeper() }()

	publisher, err := notify.NewPublisher(cfg.NATSURL)
	if err != nil {
		slog.Warn("Event publisher unavailable, continuing without", slog.Any("error", err))
	}
	defer publisher.Close()

	recorder := metrics.NewPrometheusRecorder(nil)
	orch := wireOrchestrator(cfg, st, workspaces, publisher, recorder)
	srv := server.New(cfg.Webhook, st, orch, recorder.Handler())

	slog.Info("fixbot starting",
		slog.String("version", version),
		slog.String("listen", cfg.Webhook.ListenAddr),
		slog.Int("workers", cfg.MaxConcurrentTasks),
		slog.Bool("validation", cfg.ValidationEnabled))

	errCh := make(chan error, 2)
	go func() { errCh <- orch.Run(ctx) }()
	go func() { errCh <- srv.Start(ctx) }()

	// The first exit (signal-driven drain or fatal error) stops the other.
	err = <-errCh
	stop()
	if second := <-errCh; err == nil {
		err = second
	}
	return err
}

// wireOrchestrator assembles the worker pool with all six stage handlers.
func wireOrchestrator(cfg *config.Config, st *store.Store, workspaces *workspace.Manager, publisher *notify.Publisher, recorder metrics.Recorder) *orchestrator.Orchestrator {
	gitClient := git.NewClient(cfg.Forge.Token)
	forgeClient := forge.New(cfg.Forge)
	llmClient := llm.New(cfg.LLM)
	buildRunner := validator.New(cfg.BuildTimeout, true)

	orch := orchestrator.New(st, orchestrator.Config{
		Workers:     cfg.MaxConcurrentTasks,
		MaxAttempts: cfg.TaskMaxAttempts,
	}, recorder)
	orch.Register(model.TaskPlan, stages.NewPlanStage())
	orch.Register(model.TaskRetrieve, stages.NewRetrieveStage(st, gitClient, workspaces))
	orch.Register(model.TaskCodeFix, stages.NewCodeFixStage(st, llmClient, gitClient, workspaces, recorder))
	orch.Register(model.TaskValidate, stages.NewValidateStage(st, buildRunner, workspaces, cfg.ValidationEnabled))
	orch.Register(model.TaskCreatePR, stages.NewCreatePRStage(st, gitClient, forgeClient, workspaces))
	orch.Register(model.TaskNotify, stages.NewNotifyStage(st, notify.New(st, publisher)))
	return orch
}

// runOnce feeds a single webhook payload file through the full pipeline and
// exits when the build reaches a terminal state. Meant for local use.
func runOnce(cfg *config.Config, path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var report model.BuildReport
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("parse report %s: %w", path, err)
	}

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	workspaces, err := workspace.New(cfg.WorkDir, cfg.WorkDirRetention)
	if err != nil {
		return err
	}

	orch := wireOrchestrator(cfg, st, workspaces, nil, metrics.NoopRecorder{})

	build, created, err := st.CreateBuild(ctx, &model.Build{
		Job:         report.Job,
		BuildNumber: report.BuildNumber,
		Branch:      report.Branch,
		RepoURL:     report.RepoURL,
		CommitSHA:   report.CommitSHA,
		Payload:     body,
	})
	if err != nil {
		return err
	}
	if created {
		if err := orch.Enqueue(ctx, build.ID, model.TaskPlan, orchestrator.Payload{}); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- orch.Run(runCtx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case <-ticker.C:
			depth, err := st.QueueDepth(ctx)
			if err != nil {
				continue
			}
			if depth == 0 {
				break poll
			}
		}
	}
	cancel()
	if err := <-done; err != nil {
		return err
	}

	final, err := st.GetBuild(context.Background(), build.ID)
	if err != nil {
		return err
	}
	slog.Info("Build finished", slog.String("build_id", final.ID), slog.String("status", string(final.Status)))
	if final.Status != model.BuildCompleted {
		return fmt.Errorf("build ended in status %s", final.Status)
	}
	return nil
}

func runSweep(cfg *config.Config) error {
	workspaces, err := workspace.New(cfg.WorkDir, cfg.WorkDirRetention)
	if err != nil {
		return err
	}
	removed, err := workspaces.Sweep(time.Now())
	if err != nil {
		return err
	}
	slog.Info("Workspace sweep finished", slog.Int("removed", removed))
	return nil
}
