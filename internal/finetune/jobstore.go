package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/clients"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

const (
	VALKEY_JOB_PREFIX = "finetune:job:"
	VALKEY_JOB_INDEX  = "finetune:jobs"
)

// JobStore keeps the latest snapshot of every fine-tune job.
type JobStore interface {
	Save(ctx context.Context, job models.FineTuneJob) error
	Get(ctx context.Context, id string) (models.FineTuneJob, bool, error)
	// List returns every job, oldest first.
	List(ctx context.Context) ([]models.FineTuneJob, error)
}

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]models.FineTuneJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]models.FineTuneJob)}
}

func (m *MemoryJobStore) Save(ctx context.Context, job models.FineTuneJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryJobStore) Get(ctx context.Context, id string) (models.FineTuneJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok, nil
}

func (m *MemoryJobStore) List(ctx context.Context) ([]models.FineTuneJob, error) {
	m.mu.RLock()
	jobs := make([]models.FineTuneJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	sortByCreation(jobs)
	return jobs, nil
}

// ValkeyJobStore shares job state between server replicas and biasctl.
type ValkeyJobStore struct {
	client *clients.ValkeyClient
}

func NewValkeyJobStore(client *clients.ValkeyClient) *ValkeyJobStore {
	return &ValkeyJobStore{client: client}
}

func jobKey(id string) string {
	return VALKEY_JOB_PREFIX + id
}

func (v *ValkeyJobStore) Save(ctx context.Context, job models.FineTuneJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := v.client.SetIndexed(ctx, VALKEY_JOB_INDEX, jobKey(job.ID), string(data)); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (v *ValkeyJobStore) Get(ctx context.Context, id string) (models.FineTuneJob, bool, error) {
	raw, ok, err := v.client.Get(ctx, jobKey(id))
	if err != nil || !ok {
		return models.FineTuneJob{}, false, err
	}
	var job models.FineTuneJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return models.FineTuneJob{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

func (v *ValkeyJobStore) List(ctx context.Context) ([]models.FineTuneJob, error) {
	keys, err := v.client.Members(ctx, VALKEY_JOB_INDEX)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]models.FineTuneJob, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := v.client.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var job models.FineTuneJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		jobs = append(jobs, job)
	}
	sortByCreation(jobs)
	return jobs, nil
}

func sortByCreation(jobs []models.FineTuneJob) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
