package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/bias"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/prediction"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/registry"
	"github.com/google/uuid"
)

type Resolver interface {
	Get(name string) (registry.Handle, bool)
}

type Predictor interface {
	Predict(ctx context.Context, h registry.Handle, prompt string) ([]string, error)
}

type Detector interface {
	Detect(ctx context.Context, candidates []string) (bias.Detection, error)
}

type Orchestrator struct {
	models    Resolver
	predictor Predictor
	detector  Detector
	store     db.LogStore
	now       func() time.Time
	newID     func() string
}

type Option func(*Orchestrator)

// WithClock replaces the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(resolver Resolver, predictor Predictor, detector Detector, store db.LogStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		models:    resolver,
		predictor: predictor,
		detector:  detector,
		store:     store,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze runs every requested model over the prompt. Either every model
// succeeds and one audit record per model is stored, or nothing is stored.
func (o *Orchestrator) Analyze(ctx context.Context, req models.AnalyzeRequest) ([]models.ModelResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, BadRequest("prompt is required")
	}
	if len(req.ModelNames) == 0 {
		return nil, BadRequest("model_names must not be empty")
	}

	handles := make([]registry.Handle, 0, len(req.ModelNames))
	for _, name := range req.ModelNames {
		h, ok := o.models.Get(name)
		if !ok {
			return nil, NotFound("Model %s not found", name)
		}
		handles = append(handles, h)
	}

	inputLength := len(strings.Fields(req.Prompt))
	results := make([]models.ModelResult, 0, len(handles))
	records := make([]models.AuditRecord, 0, len(handles))

	for _, h := range handles {
		start := time.Now()

		predictions, err := o.predictor.Predict(ctx, h, req.Prompt)
		if err != nil {
			if errors.Is(err, prediction.ErrMaskTokenMissing) {
				return nil, InvalidRequest(err)
			}
			return nil, fmt.Errorf("predict with %s: %w", h.Name, err)
		}

		detection, err := o.detector.Detect(ctx, predictions)
		if err != nil {
			return nil, fmt.Errorf("detect bias for %s: %w", h.Name, err)
		}

		flags := detection.FlagTexts()
		results = append(results, models.ModelResult{
			Model:          h.Name,
			Type:           h.Type,
			TopPredictions: predictions,
			BiasFlags:      flags,
			Biased:         detection.Biased(),
			Sentiment:      detection.Sentiment,
		})
		records = append(records, models.AuditRecord{
			ID:          o.newID(),
			Prompt:      req.Prompt,
			Model:       h.Name,
			Type:        h.Type,
			Predictions: predictions,
			BiasFlags:   flags,
			Biased:      detection.Biased(),
			Sentiment:   detection.Sentiment,
			Timestamp:   o.now().UTC(),
			InputLength: inputLength,
		})

		slog.Info("[Orchestrator] Model analyzed",
			slog.String("model", h.Name),
			slog.String("type", string(h.Type)),
			slog.Int("flags", len(flags)),
			slog.String("sentiment", detection.Sentiment),
			slog.Duration("elapsed", time.Since(start)))
	}

	if err := o.store.Insert(ctx, records...); err != nil {
		slog.Error("[Orchestrator] Failed to persist audit records",
			slog.Int("count", len(records)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("persist audit records: %w", err)
	}

	return results, nil
}
