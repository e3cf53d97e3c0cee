package finetune

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"gonum.org/v1/gonum/mat"
)

var ErrNoTrainingData = errors.New("no training data matched filters")

type TrainConfig struct {
	Dim          int
	Epochs       int
	BatchSize    int
	LearningRate float64
	// BiasWeight scales the bias BCE term added to the cross-entropy loss.
	BiasWeight float64
	TestRatio  float64
	Seed       int64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Dim:          2048,
		Epochs:       2,
		BatchSize:    4,
		LearningRate: 0.5,
		BiasWeight:   0.5,
		TestRatio:    0.2,
		Seed:         42,
	}
}

func featureMatrix(examples []models.TrainingExample, dim int) *mat.Dense {
	x := mat.NewDense(len(examples), dim, nil)
	for i, ex := range examples {
		x.SetRow(i, Featurize(ex.Text, dim))
	}
	return x
}

// Train fits a linear head with mini-batch gradient descent on
// cross-entropy + BiasWeight * BCEWithLogits(logit[neutral], bias flag).
func Train(baseModel string, train, test []models.TrainingExample, cfg TrainConfig) (*ClassifierHead, error) {
	if len(train) == 0 {
		return nil, ErrNoTrainingData
	}
	start := time.Now()
	classes := len(Labels)

	xAll := featureMatrix(train, cfg.Dim)
	w := mat.NewDense(classes, cfg.Dim, nil)
	b := make([]float64, classes)
	rng := rand.New(rand.NewSource(cfg.Seed))

	var epochLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		order := rng.Perm(len(train))
		epochLoss = 0

		for startIdx := 0; startIdx < len(order); startIdx += cfg.BatchSize {
			end := startIdx + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[startIdx:end]
			n := len(batch)

			x := mat.NewDense(n, cfg.Dim, nil)
			for r, idx := range batch {
				x.SetRow(r, xAll.RawRowView(idx))
			}

			var z mat.Dense
			z.Mul(x, w.T())

			grad := mat.NewDense(n, classes, nil)
			for r, idx := range batch {
				ex := train[idx]
				logits := make([]float64, classes)
				for c := range logits {
					logits[c] = z.At(r, c) + b[c]
				}

				p := softmax(logits)
				target := float64(ex.BiasFlag)
				epochLoss += -math.Log(math.Max(p[ex.Label], 1e-12)) +
					cfg.BiasWeight*bceWithLogits(logits[LABEL_NEUTRAL], target)

				for c := range p {
					g := p[c]
					if c == ex.Label {
						g -= 1
					}
					if c == LABEL_NEUTRAL {
						g += cfg.BiasWeight * (sigmoid(logits[c]) - target)
					}
					grad.Set(r, c, g/float64(n))
				}
			}

			var dw mat.Dense
			dw.Mul(grad.T(), x)
			dw.Scale(cfg.LearningRate, &dw)
			w.Sub(w, &dw)

			for c := range b {
				b[c] -= cfg.LearningRate * mat.Sum(grad.ColView(c))
			}
		}

		slog.Debug("[Trainer] Epoch finished",
			slog.String("base_model", baseModel),
			slog.Int("epoch", epoch+1),
			slog.Float64("loss", epochLoss/float64(len(train))))
	}

	head := &ClassifierHead{
		BaseModel: baseModel,
		Dim:       cfg.Dim,
		Labels:    append([]string(nil), Labels...),
		Weights:   make([][]float64, classes),
		Bias:      b,
		TrainedAt: time.Now().UTC(),
	}
	for c := 0; c < classes; c++ {
		head.Weights[c] = mat.Row(nil, c, w)
	}

	head.Metrics = models.TrainingMetrics{
		TrainSize:    len(train),
		TestSize:     len(test),
		TrainLoss:    epochLoss / float64(len(train)),
		TestAccuracy: Accuracy(head, test),
	}

	slog.Info("[Trainer] Training finished",
		slog.String("base_model", baseModel),
		slog.Int("train_size", len(train)),
		slog.Int("test_size", len(test)),
		slog.Float64("train_loss", head.Metrics.TrainLoss),
		slog.Float64("test_accuracy", head.Metrics.TestAccuracy),
		slog.Duration("elapsed", time.Since(start)))
	return head, nil
}

// Accuracy is the share of examples whose argmax logit matches the label.
func Accuracy(head *ClassifierHead, examples []models.TrainingExample) float64 {
	if len(examples) == 0 {
		return 0
	}
	correct := 0
	for _, ex := range examples {
		if argmax(head.Logits(ex.Text)) == ex.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(examples))
}
