package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medops/ruleflow/internal/config"
	"github.com/medops/ruleflow/internal/logger"
	"github.com/medops/ruleflow/rules"
)

type Server struct {
	db         *sql.DB
	dispatcher *rules.Dispatcher
	store      rules.RuleStore
	execLog    rules.ExecutionLog
	cfg        *config.Config
	router     *chi.Mux
}

// NewServer wires the store, execution log, executor and dispatcher. With no
// database URL configured everything runs in-memory, which is enough for
// development and tests.
func NewServer(cfg *config.Config, collab rules.Collaborators) (*Server, error) {
	var (
		db      *sql.DB
		store   rules.RuleStore
		execLog rules.ExecutionLog
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = rules.NewPostgresRuleStore(db)
		execLog = rules.NewPostgresExecutionLog(db)
	} else {
		lg := logger.WithComponent("server")
		lg.Warn().Msg("no database configured, using in-memory store")
		store = rules.NewInMemoryRuleStore()
		execLog = rules.NewInMemoryExecutionLog()
	}

	executor := rules.NewActionExecutor(collab, rules.ExecutorConfig{
		ActionTimeout:          cfg.Executor.ActionTimeout.Std(),
		AIMaxRetries:           cfg.Executor.AIMaxRetries,
		AIRetryInitialInterval: cfg.Executor.AIRetryInitialInterval.Std(),
	})

	dispatcher, err := rules.NewDispatcher(store, executor, execLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	s := &Server{
		db:         db,
		dispatcher: dispatcher,
		store:      store,
		execLog:    execLog,
		cfg:        cfg,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/analytics", s.handleAnalytics)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/toggle", s.handleToggleRule)
			r.Post("/resolve", s.handleResolveBucket)
		})
	})

	r.Route("/api/v1/signals", func(r chi.Router) {
		r.Post("/event", s.handleSubmitEvent)
		r.Post("/poll", s.handlePoll)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule()
	rule.ID = uuid.NewString()

	if err := s.dispatcher.AddRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	rulesList, err := s.store.List(activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rulesList})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule()
	rule.ID = chi.URLParam(r, "ruleId")

	if err := s.dispatcher.UpdateRule(rule); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.dispatcher.ToggleRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleResolveBucket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Fingerprint == "" {
		respondError(w, http.StatusBadRequest, "fingerprint is required", nil)
		return
	}

	s.dispatcher.Resolve(chi.URLParam(r, "ruleId"), req.Fingerprint)
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req SubmitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "eventType is required", nil)
		return
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if req.Fingerprint != "" {
		payload["fingerprint"] = req.Fingerprint
	}

	results, err := s.dispatcher.SubmitEvent(r.Context(), req.EventType, payload)
	if err != nil {
		// Only store unavailability reaches here; per-rule failures live in
		// the execution log.
		respondError(w, http.StatusServiceUnavailable, "dispatch failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	signals, err := s.dispatcher.PollConditionRules(r.Context(), req.State)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "poll failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	sinceDays := 7
	if v := r.URL.Query().Get("since_days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "since_days must be a positive integer", err)
			return
		}
		sinceDays = parsed
	}

	analytics, err := rules.ComputeAnalytics(s.execLog, sinceDays, s.cfg.Analytics.MinutesSavedPerExecution)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute analytics", err)
		return
	}

	respondJSON(w, http.StatusOK, analytics)
}

// runTicker drives schedule triggers and the escalation sweep until the
// context is cancelled.
func (s *Server) runTicker(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Server.TickInterval.Std())
	defer ticker.Stop()

	lg := logger.WithComponent("ticker")
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.dispatcher.Tick(ctx, now); err != nil {
				lg.Error().Err(err).Msg("tick dispatch failed")
			}
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	lg := logger.WithComponent("server")

	server, err := NewServer(cfg, loggingCollaborators())
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to create server")
	}
	if server.db != nil {
		defer server.db.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.runTicker(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	lg.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("server shutdown error")
	}

	lg.Info().Msg("server stopped")
}
