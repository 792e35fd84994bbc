// Package server exposes the webhook ingress plus the health and metrics
// endpoints. It is the only component that creates builds; everything past
// the initial plan task belongs to the orchestrator.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/fixbot/internal/config"
	"git.home.luguber.info/inful/fixbot/internal/forge"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/orchestrator"
	"git.home.luguber.info/inful/fixbot/internal/store"
)

// maxBodyBytes bounds the webhook body; base64 build logs dominate it.
const maxBodyBytes = 16 << 20

// Server is the HTTP ingress.
type Server struct {
	cfg     config.WebhookConfig
	store   *store.Store
	orch    *orchestrator.Orchestrator
	metrics http.Handler

	srv *http.Server
}

// New builds the server. metricsHandler may be nil; /metrics then returns
// 404.
func New(cfg config.WebhookConfig, s *store.Store, o *orchestrator.Orchestrator, metricsHandler http.Handler) *Server {
	return &Server{cfg: cfg, store: s, orch: o, metrics: metricsHandler}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/ci", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start runs the HTTP server until ctx is canceled, then drains it.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Webhook server listening", slog.String("addr", s.cfg.ListenAddr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if s.cfg.SignatureValidation {
		sig := r.Header.Get(forge.SignatureHeader)
		if sig == "" {
			http.Error(w, "missing signature", http.StatusUnauthorized)
			return
		}
		if !forge.ValidateSignature(body, sig, s.cfg.Secret) {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
	}

	var report model.BuildReport
	if err := json.Unmarshal(body, &report); err != nil {
		http.Error(w, "malformed report", http.StatusBadRequest)
		return
	}
	if report.Job == "" || report.BuildNumber <= 0 || report.RepoURL == "" || report.CommitSHA == "" {
		http.Error(w, "missing required report fields", http.StatusBadRequest)
		return
	}

	build, created, err := s.store.CreateBuild(r.Context(), &model.Build{
		Job:         report.Job,
		BuildNumber: report.BuildNumber,
		Branch:      report.Branch,
		RepoURL:     report.RepoURL,
		CommitSHA:   report.CommitSHA,
		Payload:     body,
	})
	if err != nil {
		slog.Error("Build create failed",
			logfields.Job(report.Job),
			logfields.BuildNumber(report.BuildNumber),
			logfields.Error(err))
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	if created {
		if err := s.orch.Enqueue(r.Context(), build.ID, model.TaskPlan, orchestrator.Payload{}); err != nil {
			slog.Error("Plan enqueue failed", logfields.BuildID(build.ID), logfields.Error(err))
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		slog.Info("Build accepted",
			logfields.BuildID(build.ID),
			logfields.Job(build.Job),
			logfields.BuildNumber(build.BuildNumber),
			logfields.Commit(build.CommitSHA))
	} else {
		slog.Info("Duplicate build report ignored",
			logfields.BuildID(build.ID),
			logfields.Job(build.Job),
			logfields.BuildNumber(build.BuildNumber))
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"build_id": build.ID,
		"status":   string(build.Status),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
