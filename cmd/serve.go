package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/analyzer"
	"github.com/propsignal/geo-audit/internal/audit"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/store"
)

// runExecutor, batchService and batchAnalyzer are the narrow slices of the
// audit machinery the HTTP handlers touch, kept as interfaces so tests can
// drive the router with fakes.
type runExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

type batchService interface {
	Create(ctx context.Context, propertyID string) (*audit.BatchResult, error)
	ExecuteBatch(ctx context.Context, batchID string) error
}

type batchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, batchID string) analyzer.Result
}

// apiServer exposes trigger and read endpoints over the audit pipeline.
// Long-running executions detach onto baseCtx so they survive the request.
type apiServer struct {
	store    store.Store
	orch     runExecutor
	batches  batchService
	analyzer batchAnalyzer
	baseCtx  context.Context
}

func (s *apiServer) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/runs/{runID}", s.handleGetRun)
	r.Post("/runs/{runID}/execute", s.handleExecuteRun)
	r.Post("/batches", s.handleCreateBatch)
	r.Post("/batches/{batchID}/execute", s.handleExecuteBatch)
	r.Post("/batches/{batchID}/analyze", s.handleAnalyzeBatch)
	r.Get("/batches/{batchID}/analysis", s.handleGetAnalysis)

	return r
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := struct {
		Run   *model.Run          `json:"run"`
		Score *model.RunAggregate `json:"score,omitempty"`
	}{Run: run}
	if agg, err := s.store.GetRunScore(r.Context(), runID); err == nil {
		out.Score = agg
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleExecuteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if run.Status.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already finished"})
		return
	}

	go func() {
		if err := s.orch.ExecuteRun(s.baseCtx, runID); err != nil {
			zap.L().Error("async run execution failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "run_id": runID})
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyID string `json:"property_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PropertyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "property_id is required"})
		return
	}

	result, err := s.batches.Create(r.Context(), req.PropertyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *apiServer) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	go func() {
		if err := s.batches.ExecuteBatch(s.baseCtx, batchID); err != nil {
			zap.L().Error("async batch execution failed",
				zap.String("batch_id", batchID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "batch_id": batchID})
}

func (s *apiServer) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	// The analyzer reports preconditions in its payload instead of failing.
	res := s.analyzer.AnalyzeBatch(r.Context(), batchID)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *apiServer) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	analysis, err := s.store.GetBatchAnalysis(r.Context(), batchID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audit trigger API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		orch := initOrchestrator(st)
		api := &apiServer{
			store:    st,
			orch:     orch,
			batches:  audit.NewBatchRunner(st, orch),
			analyzer: initAnalyzer(st),
			baseCtx:  ctx,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
