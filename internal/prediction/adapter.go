package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/registry"
)

const (
	TOP_K          = 5
	MAX_NEW_TOKENS = 50

	GenericMask      = "[MASK]"
	GenericMaskAngle = "<mask>"
)

var ErrMaskTokenMissing = errors.New("prompt must include a mask token")

// NormalizePrompt swaps every generic placeholder for the backend's mask
// token in a single pass, so a placeholder is never substituted twice.
func NormalizePrompt(prompt, maskToken string) (string, error) {
	if !HasMask(prompt) {
		return "", ErrMaskTokenMissing
	}
	return strings.NewReplacer(GenericMask, maskToken, GenericMaskAngle, maskToken).Replace(prompt), nil
}

func HasMask(prompt string) bool {
	return strings.Contains(prompt, GenericMask) || strings.Contains(prompt, GenericMaskAngle)
}

type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

// Predict returns the top 5 fill-mask tokens for masked models or one
// generated continuation for causal models.
func (a *Adapter) Predict(ctx context.Context, h registry.Handle, prompt string) ([]string, error) {
	switch h.Type {
	case models.ModelTypeMasked:
		candidates, err := a.Candidates(ctx, h, prompt, TOP_K)
		if err != nil {
			return nil, err
		}
		predictions := make([]string, 0, len(candidates))
		for _, c := range candidates {
			predictions = append(predictions, c.Text)
		}
		return predictions, nil

	case models.ModelTypeCausal:
		text, err := h.Backend.Generate(ctx, prompt, MAX_NEW_TOKENS)
		if err != nil {
			return nil, fmt.Errorf("generate with %s: %w", h.Name, err)
		}
		return []string{text}, nil

	default:
		return nil, fmt.Errorf("model %s has unknown type %q", h.Name, h.Type)
	}
}

// Candidates runs fill-mask and keeps at most k ranked candidates.
func (a *Adapter) Candidates(ctx context.Context, h registry.Handle, prompt string, k int) ([]models.Candidate, error) {
	normalized, err := NormalizePrompt(prompt, h.MaskToken)
	if err != nil {
		return nil, fmt.Errorf("%w: expected '%s' for model '%s'", err, h.MaskToken, h.Name)
	}
	slog.Debug("[PredictionAdapter] Normalized prompt",
		slog.String("model", h.Name),
		slog.String("prompt", normalized))

	candidates, err := h.Backend.FillMask(ctx, normalized, k)
	if err != nil {
		return nil, fmt.Errorf("fill-mask with %s: %w", h.Name, err)
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
