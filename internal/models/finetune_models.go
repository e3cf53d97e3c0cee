package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type FineTuneRequest struct {
	BaseModel string          `json:"base_model"`
	Filters   json.RawMessage `json:"filters,omitempty"`
}

type TrainingMetrics struct {
	TrainSize    int     `json:"train_size"`
	TestSize     int     `json:"test_size"`
	TrainLoss    float64 `json:"train_loss"`
	TestAccuracy float64 `json:"test_accuracy"`
}

type FineTuneJob struct {
	ID         string           `json:"id"`
	BaseModel  string           `json:"base_model"`
	Filters    LogFilter        `json:"filters"`
	Status     JobStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	Artifact   string           `json:"artifact,omitempty"`
	Metrics    *TrainingMetrics `json:"metrics,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func (j FineTuneJob) Done() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// TrainingExample is one labeled row fed to the classifier head.
// Label: negative=0, neutral=1, positive=2.
type TrainingExample struct {
	Text     string `json:"text"`
	Label    int    `json:"label"`
	BiasFlag int    `json:"bias_flag"`
}

type ProbeResult struct {
	Prompt      string   `json:"prompt"`
	Predictions []string `json:"predictions"`
	BiasFlags   []string `json:"bias_flags"`
	Sentiment   string   `json:"sentiment"`
}

type EvaluationResult struct {
	BaseModel     string        `json:"base_model"`
	OriginalBias  []ProbeResult `json:"original_bias"`
	FineTunedBias []ProbeResult `json:"fine_tuned_bias"`
}
