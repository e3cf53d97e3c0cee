package finetune

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/clients"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

const (
	LABEL_NEGATIVE = 0
	LABEL_NEUTRAL  = 1
	LABEL_POSITIVE = 2

	// datasets-server refuses pages longer than this
	ROWS_PAGE_SIZE       = 100
	MAX_REFERENCE_LENGTH = 1000
)

var Labels = []string{models.SentimentNegative, models.SentimentNeutral, models.SentimentPositive}

// SentimentLabel maps a sentiment to its class index. Unknown values are neutral.
func SentimentLabel(sentiment string) int {
	switch sentiment {
	case models.SentimentNegative:
		return LABEL_NEGATIVE
	case models.SentimentPositive:
		return LABEL_POSITIVE
	default:
		return LABEL_NEUTRAL
	}
}

// ExamplesFromRecords turns audit records into labeled rows: the prompt
// followed by the first prediction, labeled by sentiment and bias.
func ExamplesFromRecords(records []models.AuditRecord) []models.TrainingExample {
	examples := make([]models.TrainingExample, 0, len(records))
	for _, r := range records {
		text := r.Prompt
		if len(r.Predictions) > 0 {
			text = r.Prompt + " " + r.Predictions[0]
		}
		flag := 0
		if r.Biased {
			flag = 1
		}
		examples = append(examples, models.TrainingExample{
			Text:     text,
			Label:    SentimentLabel(r.Sentiment),
			BiasFlag: flag,
		})
	}
	return examples
}

// ReferenceExamples labels reference texts as neutral and unbiased.
func ReferenceExamples(texts []string) []models.TrainingExample {
	examples := make([]models.TrainingExample, 0, len(texts))
	for _, t := range texts {
		examples = append(examples, models.TrainingExample{Text: t, Label: LABEL_NEUTRAL, BiasFlag: 0})
	}
	return examples
}

// Split shuffles with seed and holds out testRatio of the examples.
func Split(examples []models.TrainingExample, testRatio float64, seed int64) (train, test []models.TrainingExample) {
	shuffled := append([]models.TrainingExample(nil), examples...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	testSize := int(float64(len(shuffled)) * testRatio)
	if testSize == 0 && len(shuffled) > 1 && testRatio > 0 {
		testSize = 1
	}
	return shuffled[testSize:], shuffled[:testSize]
}

// ReferenceSampler supplies neutral text used to anchor the classifier.
type ReferenceSampler interface {
	Sample(ctx context.Context, n int) ([]string, error)
}

// DatasetSampler pages through a Hugging Face dataset split.
type DatasetSampler struct {
	client  *clients.HuggingFaceClient
	dataset string
	config  string
	split   string
}

func NewDatasetSampler(client *clients.HuggingFaceClient, dataset, config string) *DatasetSampler {
	return &DatasetSampler{client: client, dataset: dataset, config: config, split: "train"}
}

func (d *DatasetSampler) Sample(ctx context.Context, n int) ([]string, error) {
	texts := make([]string, 0, n)
	for offset := 0; offset < n; offset += ROWS_PAGE_SIZE {
		length := ROWS_PAGE_SIZE
		if n-offset < length {
			length = n - offset
		}

		page, err := d.client.DatasetRows(ctx, d.dataset, d.config, d.split, offset, length)
		if err != nil {
			return nil, fmt.Errorf("fetch %s rows at offset %d: %w", d.dataset, offset, err)
		}
		for _, row := range page.Rows {
			if text := clip(row.Row.Text, MAX_REFERENCE_LENGTH); text != "" {
				texts = append(texts, text)
			}
		}
		if len(page.Rows) < length {
			break
		}
	}

	slog.Info("[DatasetSampler] Fetched reference sample",
		slog.String("dataset", d.dataset),
		slog.Int("rows", len(texts)))
	return texts, nil
}

func clip(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
