package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	ProviderHuggingFace = "huggingface"
	ProviderOpenAI      = "openai"
)

// Backend is the inference engine behind a registered model.
type Backend interface {
	FillMask(ctx context.Context, prompt string, topK int) ([]models.Candidate, error)
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

// BackendFactory builds the backend for one registry entry.
type BackendFactory func(spec ModelSpec) (Backend, error)

type ModelSpec struct {
	Name      string           `yaml:"name"`
	Type      models.ModelType `yaml:"type"`
	Path      string           `yaml:"path"`
	Provider  string           `yaml:"provider"`
	MaskToken string           `yaml:"mask_token"`
}

type specFile struct {
	Models []ModelSpec `yaml:"models"`
}

type Handle struct {
	Name      string
	Type      models.ModelType
	Path      string
	Provider  string
	MaskToken string
	Backend   Backend
}

// Registry maps model names to handles. It is built once and never mutated.
type Registry struct {
	handles map[string]Handle
	order   []string
}

func DefaultSpecs() []ModelSpec {
	return []ModelSpec{
		{Name: "bert-base-uncased", Type: models.ModelTypeMasked, Path: "bert-base-uncased"},
		{Name: "gpt2", Type: models.ModelTypeCausal, Path: "gpt2"},
		{Name: "distilbert-base-uncased", Type: models.ModelTypeMasked, Path: "distilbert-base-uncased"},
		{Name: "roberta-base", Type: models.ModelTypeMasked, Path: "roberta-base"},
		{Name: "xlm-roberta-base", Type: models.ModelTypeMasked, Path: "xlm-roberta-base"},
	}
}

// LoadSpecs reads model entries from a YAML file. A missing file falls back
// to DefaultSpecs.
func LoadSpecs(path string) ([]ModelSpec, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("[Registry] Models file not found, using defaults",
			slog.String("path", path))
		return DefaultSpecs(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read models file %s: %w", path, err)
	}

	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("models file %s defines no models", path)
	}
	return f.Models, nil
}

func New(specs []ModelSpec, factory BackendFactory) (*Registry, error) {
	r := &Registry{handles: make(map[string]Handle, len(specs))}

	for _, spec := range specs {
		spec = withDefaults(spec)
		if err := validate(spec); err != nil {
			return nil, err
		}
		if _, dup := r.handles[spec.Name]; dup {
			return nil, fmt.Errorf("model %q registered twice", spec.Name)
		}

		backend, err := factory(spec)
		if err != nil {
			return nil, fmt.Errorf("build backend for %s: %w", spec.Name, err)
		}

		r.handles[spec.Name] = Handle{
			Name:      spec.Name,
			Type:      spec.Type,
			Path:      spec.Path,
			Provider:  spec.Provider,
			MaskToken: spec.MaskToken,
			Backend:   backend,
		}
		r.order = append(r.order, spec.Name)
		slog.Info("[Registry] Model registered",
			slog.String("model", spec.Name),
			slog.String("type", string(spec.Type)),
			slog.String("provider", spec.Provider))
	}

	return r, nil
}

func (r *Registry) Get(name string) (Handle, bool) {
	h, ok := r.handles[name]
	return h, ok
}

// Names returns registered model names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// FirstByProvider returns the earliest registered handle served by provider.
func (r *Registry) FirstByProvider(provider string) (Handle, bool) {
	for _, name := range r.order {
		if h := r.handles[name]; h.Provider == provider {
			return h, true
		}
	}
	return Handle{}, false
}

func withDefaults(spec ModelSpec) ModelSpec {
	if spec.Path == "" {
		spec.Path = spec.Name
	}
	if spec.Provider == "" {
		spec.Provider = ProviderHuggingFace
	}
	if spec.Type == models.ModelTypeMasked && spec.MaskToken == "" {
		spec.MaskToken = DefaultMaskToken(spec.Path)
	}
	return spec
}

// DefaultMaskToken guesses the tokenizer's mask token from the model family.
func DefaultMaskToken(path string) string {
	p := strings.ToLower(path)
	if strings.Contains(p, "roberta") || strings.Contains(p, "bart") || strings.Contains(p, "camembert") {
		return "<mask>"
	}
	return "[MASK]"
}

func validate(spec ModelSpec) error {
	if spec.Name == "" {
		return errors.New("model entry without a name")
	}
	switch spec.Type {
	case models.ModelTypeMasked, models.ModelTypeCausal:
	default:
		return fmt.Errorf("model %q has unknown type %q", spec.Name, spec.Type)
	}
	switch spec.Provider {
	case ProviderHuggingFace:
	case ProviderOpenAI:
		if spec.Type != models.ModelTypeCausal {
			return fmt.Errorf("model %q: provider openai only serves causal models", spec.Name)
		}
	default:
		return fmt.Errorf("model %q has unknown provider %q", spec.Name, spec.Provider)
	}
	return nil
}
