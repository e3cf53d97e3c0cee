package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/analysis"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrJobNotFound   = errors.New("fine-tune job not found")
	ErrRunnerStopped = errors.New("fine-tune runner is shut down")
)

type RunnerConfig struct {
	Train         TrainConfig
	ReferenceSize int
}

// Runner executes fine-tune jobs in background goroutines it owns. Jobs for
// the same base model run one at a time.
type Runner struct {
	resolver  analysis.Resolver
	logs      db.LogStore
	reference ReferenceSampler
	artifacts storage.ArtifactStore
	jobs      JobStore
	cfg       RunnerConfig
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	locks  map[string]*sync.Mutex
}

func NewRunner(resolver analysis.Resolver, logs db.LogStore, reference ReferenceSampler,
	artifacts storage.ArtifactStore, jobs JobStore, cfg RunnerConfig) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		resolver:  resolver,
		logs:      logs,
		reference: reference,
		artifacts: artifacts,
		jobs:      jobs,
		cfg:       cfg,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		locks:     make(map[string]*sync.Mutex),
	}
}

// DecodeFilter parses the caller's filter object. Unknown keys are rejected
// so a typo cannot silently widen the training set.
func DecodeFilter(raw json.RawMessage) (models.LogFilter, error) {
	var filter models.LogFilter
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return filter, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&filter); err != nil {
		return filter, analysis.BadRequest("invalid filters: %v", err)
	}

	switch filter.Type {
	case "", models.ModelTypeMasked, models.ModelTypeCausal:
	default:
		return filter, analysis.BadRequest("invalid filters: unknown type %q", filter.Type)
	}
	return filter, nil
}

// Submit validates the request, stores a pending job and starts it in the
// background. The returned job is the pending snapshot.
func (r *Runner) Submit(ctx context.Context, req models.FineTuneRequest) (models.FineTuneJob, error) {
	baseModel := strings.TrimSpace(req.BaseModel)
	if baseModel == "" {
		return models.FineTuneJob{}, analysis.BadRequest("base_model is required")
	}
	if _, ok := r.resolver.Get(baseModel); !ok {
		return models.FineTuneJob{}, analysis.NotFound("Model %s not found", baseModel)
	}
	filter, err := DecodeFilter(req.Filters)
	if err != nil {
		return models.FineTuneJob{}, err
	}

	job := models.FineTuneJob{
		ID:        uuid.NewString(),
		BaseModel: baseModel,
		Filters:   filter,
		Status:    models.JobPending,
		CreatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return models.FineTuneJob{}, ErrRunnerStopped
	}
	if err := r.jobs.Save(ctx, job); err != nil {
		return models.FineTuneJob{}, fmt.Errorf("save job: %w", err)
	}

	r.wg.Add(1)
	go r.execute(job)

	slog.Info("[FineTuneRunner] Job submitted",
		slog.String("job_id", job.ID),
		slog.String("base_model", baseModel))
	return job, nil
}

func (r *Runner) Get(ctx context.Context, id string) (models.FineTuneJob, error) {
	job, ok, err := r.jobs.Get(ctx, id)
	if err != nil {
		return models.FineTuneJob{}, err
	}
	if !ok {
		return models.FineTuneJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

func (r *Runner) List(ctx context.Context) ([]models.FineTuneJob, error) {
	return r.jobs.List(ctx)
}

// Shutdown stops accepting jobs, cancels running ones and waits for them.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("[FineTuneRunner] All jobs stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) modelLock(baseModel string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[baseModel]
	if !ok {
		l = &sync.Mutex{}
		r.locks[baseModel] = l
	}
	return l
}

func (r *Runner) execute(job models.FineTuneJob) {
	defer r.wg.Done()

	lock := r.modelLock(job.BaseModel)
	lock.Lock()
	defer lock.Unlock()

	started := r.now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &started
	r.save(job)

	artifact, metrics, err := r.safeRun(job)

	finished := r.now().UTC()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = models.JobFailed
		job.Error = err.Error()
		slog.Error("[FineTuneRunner] Fine-tuning failed",
			slog.String("job_id", job.ID),
			slog.String("base_model", job.BaseModel),
			slog.String("error", err.Error()))
	} else {
		job.Status = models.JobSucceeded
		job.Artifact = artifact
		job.Metrics = metrics
		slog.Info("[FineTuneRunner] Fine-tuned head saved",
			slog.String("job_id", job.ID),
			slog.String("artifact", artifact),
			slog.Duration("elapsed", finished.Sub(started)))
	}
	r.save(job)
}

// save uses its own context so the final status lands even after shutdown.
func (r *Runner) save(job models.FineTuneJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.jobs.Save(ctx, job); err != nil {
		slog.Error("[FineTuneRunner] Failed to save job status",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) safeRun(job models.FineTuneJob) (artifact string, metrics *models.TrainingMetrics, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("fine-tuning panicked: %v", rec)
		}
	}()
	return r.run(r.ctx, job)
}

func (r *Runner) run(ctx context.Context, job models.FineTuneJob) (string, *models.TrainingMetrics, error) {
	records, err := r.logs.Find(ctx, job.Filters)
	if err != nil {
		return "", nil, fmt.Errorf("load audit records: %w", err)
	}
	if len(records) == 0 {
		return "", nil, ErrNoTrainingData
	}

	reference, err := r.reference.Sample(ctx, r.cfg.ReferenceSize)
	if err != nil {
		return "", nil, fmt.Errorf("fetch reference sample: %w", err)
	}

	examples := append(ExamplesFromRecords(records), ReferenceExamples(reference)...)
	train, test := Split(examples, r.cfg.Train.TestRatio, r.cfg.Train.Seed)

	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	head, err := Train(job.BaseModel, train, test, r.cfg.Train)
	if err != nil {
		return "", nil, err
	}

	data, err := json.Marshal(head)
	if err != nil {
		return "", nil, fmt.Errorf("encode classifier head: %w", err)
	}
	location, err := r.artifacts.Put(ctx, ArtifactKey(job.BaseModel), data)
	if err != nil {
		return "", nil, fmt.Errorf("save classifier head: %w", err)
	}

	metrics := head.Metrics
	return location, &metrics, nil
}
