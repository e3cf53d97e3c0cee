package finetune

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/analysis"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/bias"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/prediction"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/registry"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/sentiment"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type staticSampler struct {
	texts []string
	err   error
}

func (s staticSampler) Sample(ctx context.Context, n int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.texts) > n {
		return s.texts[:n], nil
	}
	return s.texts, nil
}

type blockingSampler struct {
	release chan struct{}
}

func (b blockingSampler) Sample(ctx context.Context, n int) ([]string, error) {
	select {
	case <-b.release:
		return []string{"Paris is the capital of France."}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type panicSampler struct{}

func (panicSampler) Sample(ctx context.Context, n int) ([]string, error) {
	panic("index out of range")
}

type fillBackend struct {
	candidates []models.Candidate
}

func (f fillBackend) FillMask(ctx context.Context, prompt string, topK int) ([]models.Candidate, error) {
	if len(f.candidates) > topK {
		return f.candidates[:topK], nil
	}
	return f.candidates, nil
}

func (f fillBackend) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	return prompt, nil
}

func testRegistry(t *testing.T, backend registry.Backend) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.ModelSpec{
		{Name: "bert-base-uncased", Type: models.ModelTypeMasked},
		{Name: "gpt2", Type: models.ModelTypeCausal},
	}, func(registry.ModelSpec) (registry.Backend, error) { return backend, nil })
	require.NoError(t, err)
	return reg
}

func seededLogs(t *testing.T) *db.MemoryStore {
	t.Helper()
	store := db.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Insert(context.Background(),
		models.AuditRecord{ID: "1", Prompt: "The nurse is [MASK]", Model: "bert-base-uncased", Type: models.ModelTypeMasked,
			Predictions: []string{"she"}, Biased: true, Sentiment: models.SentimentNeutral, Timestamp: now},
		models.AuditRecord{ID: "2", Prompt: "The doctor is [MASK]", Model: "bert-base-uncased", Type: models.ModelTypeMasked,
			Predictions: []string{"great"}, Biased: false, Sentiment: models.SentimentPositive, Timestamp: now},
		models.AuditRecord{ID: "3", Prompt: "The pilot is [MASK]", Model: "bert-base-uncased", Type: models.ModelTypeMasked,
			Predictions: []string{"awful"}, Biased: false, Sentiment: models.SentimentNegative, Timestamp: now},
		models.AuditRecord{ID: "4", Prompt: "The chef said", Model: "gpt2", Type: models.ModelTypeCausal,
			Predictions: []string{"The chef said he"}, Biased: true, Sentiment: models.SentimentNeutral, Timestamp: now},
	))
	return store
}

func testRunnerConfig() RunnerConfig {
	cfg := DefaultTrainConfig()
	cfg.Dim = 64
	return RunnerConfig{Train: cfg, ReferenceSize: 10}
}

func waitDone(t *testing.T, r *Runner, id string) models.FineTuneJob {
	t.Helper()
	var job models.FineTuneJob
	require.Eventually(t, func() bool {
		var err error
		job, err = r.Get(context.Background(), id)
		require.NoError(t, err)
		return job.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSentimentLabel(t *testing.T) {
	assert.Equal(t, 0, SentimentLabel("negative"))
	assert.Equal(t, 1, SentimentLabel("neutral"))
	assert.Equal(t, 2, SentimentLabel("positive"))
	assert.Equal(t, 1, SentimentLabel("confused"))
}

func TestExamplesFromRecords(t *testing.T) {
	examples := ExamplesFromRecords([]models.AuditRecord{
		{Prompt: "The nurse is [MASK]", Predictions: []string{"she", "tired"}, Biased: true, Sentiment: "negative"},
		{Prompt: "Empty", Sentiment: "positive"},
	})
	assert.Equal(t, []models.TrainingExample{
		{Text: "The nurse is [MASK] she", Label: 0, BiasFlag: 1},
		{Text: "Empty", Label: 2, BiasFlag: 0},
	}, examples)
}

func TestSplit(t *testing.T) {
	examples := make([]models.TrainingExample, 10)
	for i := range examples {
		examples[i] = models.TrainingExample{Text: string(rune('a' + i))}
	}
	train, test := Split(examples, 0.2, 7)
	assert.Len(t, train, 8)
	assert.Len(t, test, 2)

	train2, test2 := Split(examples, 0.2, 7)
	assert.Equal(t, train, train2, "same seed must give the same split")
	assert.Equal(t, test, test2)
}

func TestDecodeFilter(t *testing.T) {
	f, err := DecodeFilter(json.RawMessage(`{"model":"gpt2","biased":true}`))
	require.NoError(t, err)
	assert.Equal(t, "gpt2", f.Model)
	require.NotNil(t, f.Biased)
	assert.True(t, *f.Biased)

	f, err = DecodeFilter(nil)
	require.NoError(t, err)
	assert.True(t, f.IsZero())

	_, err = DecodeFilter(json.RawMessage(`{"modle":"gpt2"}`))
	assert.ErrorIs(t, err, analysis.ErrBadRequest)

	_, err = DecodeFilter(json.RawMessage(`{"type":"seq2seq"}`))
	assert.ErrorIs(t, err, analysis.ErrBadRequest)
}

func TestFeaturize(t *testing.T) {
	v := Featurize("She is a nurse", 32)
	assert.Len(t, v, 32)
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
	assert.Equal(t, make([]float64, 8), Featurize("", 8))
}

func TestTrain_LearnsSeparableLabels(t *testing.T) {
	var examples []models.TrainingExample
	for i := 0; i < 40; i++ {
		examples = append(examples,
			models.TrainingExample{Text: "wonderful great lovely", Label: LABEL_POSITIVE},
			models.TrainingExample{Text: "awful terrible horrid", Label: LABEL_NEGATIVE},
			models.TrainingExample{Text: "table chair window", Label: LABEL_NEUTRAL},
		)
	}
	cfg := DefaultTrainConfig()
	cfg.Dim = 128
	train, test := Split(examples, cfg.TestRatio, cfg.Seed)

	head, err := Train("bert-base-uncased", train, test, cfg)
	require.NoError(t, err)
	assert.Equal(t, len(train), head.Metrics.TrainSize)
	assert.Equal(t, len(test), head.Metrics.TestSize)
	assert.Greater(t, head.Metrics.TestAccuracy, 0.9)
	assert.Equal(t, LABEL_POSITIVE, argmax(head.Logits("great wonderful")))
}

func TestTrain_BiasFlagRaisesBiasProbability(t *testing.T) {
	var examples []models.TrainingExample
	for i := 0; i < 50; i++ {
		examples = append(examples,
			models.TrainingExample{Text: "she woman", Label: LABEL_NEUTRAL, BiasFlag: 1},
			models.TrainingExample{Text: "rock river", Label: LABEL_NEUTRAL, BiasFlag: 0},
		)
	}
	cfg := DefaultTrainConfig()
	cfg.Dim = 64
	head, err := Train("bert-base-uncased", examples, nil, cfg)
	require.NoError(t, err)

	assert.Equal(t, 0.0, head.Metrics.TestAccuracy)
	assert.Greater(t, head.BiasProbability("she woman"), head.BiasProbability("rock river"))
}

func TestTrain_NoData(t *testing.T) {
	_, err := Train("x", nil, nil, DefaultTrainConfig())
	assert.ErrorIs(t, err, ErrNoTrainingData)
}

func TestHeadRoundTrip(t *testing.T) {
	head := &ClassifierHead{
		BaseModel: "bert-base-uncased",
		Dim:       4,
		Labels:    Labels,
		Weights:   [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
		Bias:      []float64{0, 0, 0},
	}
	data, err := json.Marshal(head)
	require.NoError(t, err)

	decoded, err := DecodeHead(data)
	require.NoError(t, err)
	assert.Equal(t, head.Weights, decoded.Weights)

	_, err = DecodeHead([]byte(`{"dim":4,"labels":["a"],"weights":[[1]],"bias":[0]}`))
	assert.Error(t, err)
}

func TestArtifactKey(t *testing.T) {
	assert.Equal(t, "fine-tuned/FacebookAI_roberta-base/head.json", ArtifactKey("FacebookAI/roberta-base"))
}

func TestRunner_Succeeds(t *testing.T) {
	defer goleak.VerifyNone(t)

	artifacts := storage.NewLocalStore(t.TempDir())
	r := NewRunner(testRegistry(t, fillBackend{}), seededLogs(t),
		staticSampler{texts: []string{"Paris is in France.", "Water boils at 100 degrees."}},
		artifacts, NewMemoryJobStore(), testRunnerConfig())
	defer r.Shutdown(context.Background())

	job, err := r.Submit(context.Background(), models.FineTuneRequest{
		BaseModel: "bert-base-uncased",
		Filters:   json.RawMessage(`{"model":"bert-base-uncased"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.NotEmpty(t, job.ID)

	done := waitDone(t, r, job.ID)
	require.Equal(t, models.JobSucceeded, done.Status, done.Error)
	require.NotNil(t, done.Metrics)
	assert.Equal(t, 5, done.Metrics.TrainSize+done.Metrics.TestSize)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	data, err := artifacts.Get(context.Background(), ArtifactKey("bert-base-uncased"))
	require.NoError(t, err)
	head, err := DecodeHead(data)
	require.NoError(t, err)
	assert.Equal(t, 64, head.Dim)
}

func TestRunner_NoMatchingRecordsFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRunner(testRegistry(t, fillBackend{}), db.NewMemoryStore(), staticSampler{},
		storage.NewLocalStore(t.TempDir()), NewMemoryJobStore(), testRunnerConfig())
	defer r.Shutdown(context.Background())

	job, err := r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "gpt2"})
	require.NoError(t, err)

	done := waitDone(t, r, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Equal(t, ErrNoTrainingData.Error(), done.Error)
}

func TestRunner_ReferenceFailureAndPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name    string
		sampler ReferenceSampler
		want    string
	}{
		{"fetch error", staticSampler{err: errors.New("503 from datasets-server")}, "fetch reference sample"},
		{"panic", panicSampler{}, "panicked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(testRegistry(t, fillBackend{}), seededLogs(t), tt.sampler,
				storage.NewLocalStore(t.TempDir()), NewMemoryJobStore(), testRunnerConfig())
			defer r.Shutdown(context.Background())

			job, err := r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "bert-base-uncased"})
			require.NoError(t, err)
			done := waitDone(t, r, job.ID)
			assert.Equal(t, models.JobFailed, done.Status)
			assert.Contains(t, done.Error, tt.want)
		})
	}
}

func TestRunner_SubmitValidation(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRunner(testRegistry(t, fillBackend{}), db.NewMemoryStore(), staticSampler{},
		storage.NewLocalStore(t.TempDir()), NewMemoryJobStore(), testRunnerConfig())
	defer r.Shutdown(context.Background())

	_, err := r.Submit(context.Background(), models.FineTuneRequest{BaseModel: ""})
	assert.ErrorIs(t, err, analysis.ErrBadRequest)

	_, err = r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "llama"})
	assert.ErrorIs(t, err, analysis.ErrModelNotFound)

	_, err = r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "gpt2", Filters: json.RawMessage(`{"nope":1}`)})
	assert.ErrorIs(t, err, analysis.ErrBadRequest)

	_, err = r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRunner_ShutdownCancelsRunningJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRunner(testRegistry(t, fillBackend{}), seededLogs(t), blockingSampler{release: make(chan struct{})},
		storage.NewLocalStore(t.TempDir()), NewMemoryJobStore(), testRunnerConfig())

	job, err := r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "bert-base-uncased"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	done, err := r.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, done.Status)

	_, err = r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "bert-base-uncased"})
	assert.ErrorIs(t, err, ErrRunnerStopped)
}

func TestRunner_SerializesJobsPerModel(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	r := NewRunner(testRegistry(t, fillBackend{}), seededLogs(t), blockingSampler{release: release},
		storage.NewLocalStore(t.TempDir()), NewMemoryJobStore(), testRunnerConfig())
	defer r.Shutdown(context.Background())

	first, err := r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "bert-base-uncased"})
	require.NoError(t, err)
	second, err := r.Submit(context.Background(), models.FineTuneRequest{BaseModel: "bert-base-uncased"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, _ := r.Get(context.Background(), first.ID)
		b, _ := r.Get(context.Background(), second.ID)
		running := 0
		for _, j := range []models.FineTuneJob{a, b} {
			if j.Status == models.JobRunning {
				running++
			}
		}
		return running == 1
	}, time.Second, 5*time.Millisecond)

	close(release)

	assert.Equal(t, models.JobSucceeded, waitDone(t, r, first.ID).Status)
	assert.Equal(t, models.JobSucceeded, waitDone(t, r, second.ID).Status)
}

func TestEvaluator(t *testing.T) {
	backend := fillBackend{candidates: []models.Candidate{
		{Text: "man", Score: 0.5},
		{Text: "woman", Score: 0.2},
		{Text: "genius", Score: 0.1},
		{Text: "expert", Score: 0.08},
		{Text: "team", Score: 0.06},
		{Text: "professional", Score: 0.05},
		{Text: "engineer", Score: 0.04},
	}}
	reg := testRegistry(t, backend)
	artifacts := storage.NewLocalStore(t.TempDir())
	engine := bias.NewEngine(sentiment.NewVaderScorer())
	e := NewEvaluator(reg, prediction.NewAdapter(), engine, artifacts)

	_, err := e.Evaluate(context.Background(), "llama")
	assert.ErrorIs(t, err, analysis.ErrModelNotFound)

	_, err = e.Evaluate(context.Background(), "gpt2")
	assert.ErrorIs(t, err, analysis.ErrBadRequest)

	_, err = e.Evaluate(context.Background(), "bert-base-uncased")
	require.Error(t, err, "no head saved yet")

	// a head that strongly associates gendered words with bias
	var examples []models.TrainingExample
	for i := 0; i < 50; i++ {
		examples = append(examples,
			models.TrainingExample{Text: "The engineer is a man", Label: LABEL_NEUTRAL, BiasFlag: 1},
			models.TrainingExample{Text: "The engineer is a woman", Label: LABEL_NEUTRAL, BiasFlag: 1},
			models.TrainingExample{Text: "The engineer is a genius", Label: LABEL_POSITIVE, BiasFlag: 0},
		)
	}
	cfg := DefaultTrainConfig()
	cfg.Dim = 256
	head, err := Train("bert-base-uncased", examples, nil, cfg)
	require.NoError(t, err)
	data, err := json.Marshal(head)
	require.NoError(t, err)
	_, err = artifacts.Put(context.Background(), ArtifactKey("bert-base-uncased"), data)
	require.NoError(t, err)

	result, err := e.Evaluate(context.Background(), "bert-base-uncased")
	require.NoError(t, err)
	require.Len(t, result.OriginalBias, len(ProbePrompts))
	require.Len(t, result.FineTunedBias, len(ProbePrompts))

	orig := result.OriginalBias[0]
	assert.Equal(t, "The engineer is a [MASK]", orig.Prompt)
	assert.Equal(t, []string{"man", "woman", "genius", "expert", "team"}, orig.Predictions)
	assert.Contains(t, orig.BiasFlags, "Gender bias likely: [man woman]")
	assert.Len(t, result.FineTunedBias[0].Predictions, 5)
}

func TestRerank(t *testing.T) {
	head := &ClassifierHead{Dim: 8, Labels: Labels,
		Weights: [][]float64{make([]float64, 8), make([]float64, 8), make([]float64, 8)},
		Bias:    []float64{0, 0, 0}}
	// zero weights give P(bias)=0.5 everywhere, so order follows score
	got := Rerank(head, "The engineer is a [MASK]", []models.Candidate{{Text: "a", Score: 0.2}, {Text: "b", Score: 0.6}})
	assert.Equal(t, "b", got[0].Text)
	assert.InDelta(t, 0.3, got[0].Score, 1e-9)
}

func TestMemoryJobStore_ListOrdersByCreation(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Save(ctx, models.FineTuneJob{ID: "b", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.Save(ctx, models.FineTuneJob{ID: "a", CreatedAt: now}))

	jobs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)

	_, ok, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobKey(t *testing.T) {
	assert.Equal(t, "finetune:job:123", jobKey("123"))
}
