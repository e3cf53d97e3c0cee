package prediction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/clients"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/registry"
)

var ErrUnsupported = errors.New("operation not supported by backend")

type HuggingFaceBackend struct {
	client *clients.HuggingFaceClient
	path   string
}

func NewHuggingFaceBackend(client *clients.HuggingFaceClient, path string) *HuggingFaceBackend {
	return &HuggingFaceBackend{client: client, path: path}
}

func (b *HuggingFaceBackend) FillMask(ctx context.Context, prompt string, topK int) ([]models.Candidate, error) {
	resp, err := b.client.FillMask(ctx, b.path, prompt, topK)
	if err != nil {
		return nil, err
	}
	candidates := make([]models.Candidate, 0, len(resp))
	for _, c := range resp {
		candidates = append(candidates, models.Candidate{Text: strings.TrimSpace(c.TokenStr), Score: c.Score})
	}
	return candidates, nil
}

func (b *HuggingFaceBackend) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	return b.client.GenerateText(ctx, b.path, prompt, maxNewTokens)
}

// OpenAIBackend serves causal models through chat completions.
type OpenAIBackend struct {
	client *clients.OpenAIClient
	model  string
}

func NewOpenAIBackend(client *clients.OpenAIClient, model string) *OpenAIBackend {
	return &OpenAIBackend{client: client, model: model}
}

func (b *OpenAIBackend) FillMask(ctx context.Context, prompt string, topK int) ([]models.Candidate, error) {
	return nil, fmt.Errorf("fill-mask on %s: %w", b.model, ErrUnsupported)
}

// Generate returns the prompt followed by the model's continuation, matching
// the full-text output of the Hugging Face backend.
func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	continuation, err := b.client.Complete(ctx, b.model, prompt, maxNewTokens)
	if err != nil {
		return "", err
	}
	return prompt + " " + continuation, nil
}

// NewBackendFactory wires registry entries to their provider clients. openAI
// may be nil when no entry uses the openai provider.
func NewBackendFactory(hf *clients.HuggingFaceClient, openAI *clients.OpenAIClient) registry.BackendFactory {
	return func(spec registry.ModelSpec) (registry.Backend, error) {
		switch spec.Provider {
		case registry.ProviderOpenAI:
			if openAI == nil {
				return nil, errors.New("openai provider requested but OPENAI_API_KEY is not set")
			}
			return NewOpenAIBackend(openAI, spec.Path), nil
		default:
			if hf == nil {
				return nil, errors.New("huggingface client not configured")
			}
			return NewHuggingFaceBackend(hf, spec.Path), nil
		}
	}
}
