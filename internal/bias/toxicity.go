package bias

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/clients"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// HuggingFaceToxicity classifies through the hosted Inference API.
type HuggingFaceToxicity struct {
	client *clients.HuggingFaceClient
	model  string
}

func NewHuggingFaceToxicity(client *clients.HuggingFaceClient, model string) *HuggingFaceToxicity {
	return &HuggingFaceToxicity{client: client, model: model}
}

func (h *HuggingFaceToxicity) Classify(ctx context.Context, texts []string) ([]models.ClassificationLabel, error) {
	resp, err := h.client.ClassifyText(ctx, h.model, texts)
	if err != nil {
		return nil, err
	}
	labels := make([]models.ClassificationLabel, 0, len(resp))
	for _, ranked := range resp {
		labels = append(labels, topLabel(ranked))
	}
	return labels, nil
}

func topLabel(ranked []models.ClassificationLabel) models.ClassificationLabel {
	var best models.ClassificationLabel
	for i, l := range ranked {
		if i == 0 || l.Score > best.Score {
			best = l
		}
	}
	return best
}

// HugotToxicity runs an ONNX export of the toxicity model in-process.
type HugotToxicity struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.Mutex
}

func NewHugotToxicity(modelName, modelDir string) (*HugotToxicity, error) {
	if err := os.MkdirAll(modelDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("[HugotToxicity] failed to create model directory: %w", err)
	}

	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		slog.Info("[HugotToxicity] Model not found, downloading...",
			slog.String("model", modelName))
		modelPath, err = hugot.DownloadModel(modelName, modelDir, hugot.NewDownloadOptions())
		if err != nil {
			return nil, fmt.Errorf("[HugotToxicity] failed to download %s: %w", modelName, err)
		}
		slog.Info("[HugotToxicity] Model downloaded successfully", slog.String("path", modelPath))
	} else {
		slog.Info("[HugotToxicity] Using existing model", slog.String("path", modelPath))
	}

	session, err := hugot.NewORTSession()
	if err != nil {
		return nil, fmt.Errorf("[HugotToxicity] failed to initialize hugot session: %w", err)
	}

	config := hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "toxicityPipeline",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("[HugotToxicity] failed to initialize pipeline: %w", err)
	}

	return &HugotToxicity{session: session, pipeline: pipeline}, nil
}

func (h *HugotToxicity) Classify(ctx context.Context, texts []string) ([]models.ClassificationLabel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	output, err := h.pipeline.RunPipeline(texts)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("[HugotToxicity] pipeline run failed: %w", err)
	}

	labels := make([]models.ClassificationLabel, 0, len(output.ClassificationOutputs))
	for _, ranked := range output.ClassificationOutputs {
		converted := make([]models.ClassificationLabel, 0, len(ranked))
		for _, r := range ranked {
			converted = append(converted, models.ClassificationLabel{Label: r.Label, Score: float64(r.Score)})
		}
		labels = append(labels, topLabel(converted))
	}
	return labels, nil
}

func (h *HugotToxicity) Close() error {
	return h.session.Destroy()
}
