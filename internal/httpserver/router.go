package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/analysis"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/finetune"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/report"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) ([]models.ModelResult, error)
}

type ModelLister interface {
	Names() []string
}

type Summarizer interface {
	Summarize(ctx context.Context) (models.DashboardSummary, error)
}

type FineTuner interface {
	Submit(ctx context.Context, req models.FineTuneRequest) (models.FineTuneJob, error)
	Get(ctx context.Context, id string) (models.FineTuneJob, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, baseModel string) (models.EvaluationResult, error)
}

type Reporter interface {
	Generate(ctx context.Context) ([]byte, error)
}

type AlertSource interface {
	Subscribe() (<-chan models.Alert, func())
}

type Services struct {
	Models    ModelLister
	Analyzer  Analyzer
	Dashboard Summarizer
	FineTune  FineTuner
	Evaluator Evaluator
	Reports   Reporter
	Alerts    AlertSource
	// Healthy reflects the inference backend health poll. Nil means healthy.
	Healthy *atomic.Bool
}

type Router struct {
	svc      Services
	upgrader websocket.Upgrader
}

var errBadBody = errors.New("invalid request body")

func NewRouter(svc Services) http.Handler {
	r := &Router{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	mux.Get("/health", r.handleHealth)
	mux.Get("/models", r.wrap(r.handleModels))
	mux.Post("/analyze", r.wrap(r.handleAnalyze))
	mux.Get("/dashboard", r.wrap(r.handleDashboard))
	mux.Post("/fine-tune", r.wrap(r.handleFineTune))
	mux.Get("/fine-tune/{id}", r.wrap(r.handleFineTuneStatus))
	mux.Get("/evaluate-fine-tuned/*", r.wrap(r.handleEvaluate))
	mux.Get("/report", r.wrap(r.handleReport))
	mux.Get("/ws/alerts", r.handleAlerts)

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				slog.Error("[HTTP] Request failed",
					slog.String("path", req.URL.Path),
					slog.String("error", err.Error()))
			}
			writeJSON(w, status, map[string]string{"detail": err.Error()})
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrModelNotFound), errors.Is(err, finetune.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrBadRequest), errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, finetune.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[HTTP] Failed to write response", slog.String("error", err.Error()))
	}
}

func decodeBody(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// GET /health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if r.svc.Healthy != nil && !r.svc.Healthy.Load() {
		http.Error(w, "inference backend unreachable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

// GET /models
func (r *Router) handleModels(w http.ResponseWriter, req *http.Request) error {
	writeJSON(w, http.StatusOK, map[string][]string{"models": r.svc.Models.Names()})
	return nil
}

// POST /analyze
// Body: {"prompt": "...", "model_names": ["..."]}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body models.AnalyzeRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}

	results, err := r.svc.Analyzer.Analyze(req.Context(), body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, models.AnalyzeResponse{Results: results})
	return nil
}

// GET /dashboard
func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) error {
	summary, err := r.svc.Dashboard.Summarize(req.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, summary)
	return nil
}

// POST /fine-tune
// Body: {"base_model": "...", "filters": {...}}
func (r *Router) handleFineTune(w http.ResponseWriter, req *http.Request) error {
	var body models.FineTuneRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}

	job, err := r.svc.FineTune.Submit(req.Context(), body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Fine-tuning started in background!",
		"job_id":  job.ID,
	})
	return nil
}

// GET /fine-tune/{id}
func (r *Router) handleFineTuneStatus(w http.ResponseWriter, req *http.Request) error {
	job, err := r.svc.FineTune.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, job)
	return nil
}

// GET /evaluate-fine-tuned/{base_model}
// base_model may contain a slash, e.g. FacebookAI/roberta-base.
func (r *Router) handleEvaluate(w http.ResponseWriter, req *http.Request) error {
	baseModel, err := url.PathUnescape(chi.URLParam(req, "*"))
	if err != nil {
		return analysis.BadRequest("invalid base_model: %v", err)
	}
	if baseModel == "" {
		return analysis.BadRequest("base_model is required")
	}

	result, err := r.svc.Evaluator.Evaluate(req.Context(), baseModel)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

// GET /report
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	data, err := r.svc.Reports.Generate(req.Context())
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.REPORT_FILENAME))
	_, err = w.Write(data)
	return err
}

// GET /ws/alerts
func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Warn("[WebSocket] Upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	alerts, unsubscribe := r.svc.Alerts.Subscribe()
	defer unsubscribe()
	slog.Info("[WebSocket] Alert subscriber connected",
		slog.String("remote", req.RemoteAddr))

	// the read loop only notices when the client goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			slog.Info("[WebSocket] Alert subscriber disconnected")
			return
		case alert, ok := <-alerts:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(alert); err != nil {
				slog.Warn("[WebSocket] Failed to push alert", slog.String("error", err.Error()))
				return
			}
		}
	}
}
