package finetune

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/bias"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"gonum.org/v1/gonum/mat"
)

// ClassifierHead is a linear sentiment classifier over hashed bag-of-words
// features. Its neutral logit doubles as the bias logit during training.
type ClassifierHead struct {
	BaseModel string                 `json:"base_model"`
	Dim       int                    `json:"dim"`
	Labels    []string               `json:"labels"`
	Weights   [][]float64            `json:"weights"`
	Bias      []float64              `json:"bias"`
	Metrics   models.TrainingMetrics `json:"metrics"`
	TrainedAt time.Time              `json:"trained_at"`
}

// ArtifactKey is where the head for baseModel is stored.
func ArtifactKey(baseModel string) string {
	return "fine-tuned/" + strings.ReplaceAll(baseModel, "/", "_") + "/head.json"
}

func DecodeHead(data []byte) (*ClassifierHead, error) {
	var h ClassifierHead
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode classifier head: %w", err)
	}
	if h.Dim <= 0 || len(h.Weights) != len(h.Labels) || len(h.Bias) != len(h.Labels) {
		return nil, fmt.Errorf("classifier head for %s is malformed", h.BaseModel)
	}
	for _, row := range h.Weights {
		if len(row) != h.Dim {
			return nil, fmt.Errorf("classifier head for %s has a weight row of length %d, want %d",
				h.BaseModel, len(row), h.Dim)
		}
	}
	return &h, nil
}

func (h *ClassifierHead) weightMatrix() *mat.Dense {
	flat := make([]float64, 0, len(h.Weights)*h.Dim)
	for _, row := range h.Weights {
		flat = append(flat, row...)
	}
	return mat.NewDense(len(h.Weights), h.Dim, flat)
}

func (h *ClassifierHead) Logits(text string) []float64 {
	x := mat.NewVecDense(h.Dim, Featurize(text, h.Dim))
	var z mat.VecDense
	z.MulVec(h.weightMatrix(), x)

	logits := make([]float64, len(h.Bias))
	for i := range logits {
		logits[i] = z.AtVec(i) + h.Bias[i]
	}
	return logits
}

// BiasProbability is the sigmoid of the bias logit for text.
func (h *ClassifierHead) BiasProbability(text string) float64 {
	return sigmoid(h.Logits(text)[LABEL_NEUTRAL])
}

// Featurize hashes the words of text into a unit-length vector of size dim.
func Featurize(text string, dim int) []float64 {
	features := make([]float64, dim)
	words := bias.Tokenize([]string{text})
	if len(words) == 0 {
		return features
	}

	for w := range words {
		hasher := fnv.New32a()
		hasher.Write([]byte(w))
		features[hasher.Sum32()%uint32(dim)] += 1
	}

	var norm float64
	for _, v := range features {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range features {
		features[i] /= norm
	}
	return features
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	hi := z[0]
	for _, v := range z[1:] {
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// bceWithLogits is binary cross-entropy on a raw logit, computed without
// overflowing for large |z|.
func bceWithLogits(z, target float64) float64 {
	return math.Max(z, 0) - z*target + math.Log1p(math.Exp(-math.Abs(z)))
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
