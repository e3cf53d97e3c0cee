package app

import (
	"context"
	"testing"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Env:           "test",
		LogStore:      "memory",
		JobStore:      "memory",
		ArtifactStore: "local",
		ArtifactDir:   t.TempDir(),
		HuggingFace:   config.HuggingFaceConfig{APIURL: "http://127.0.0.1:1", DatasetsURL: "http://127.0.0.1:1"},
		Toxicity:      config.ToxicityConfig{Backend: "none"},
	}
}

func TestBuildWiresInMemoryStack(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)

	svc := a.Services()
	assert.Contains(t, svc.Models.Names(), "bert-base-uncased")
	assert.True(t, svc.Healthy.Load())

	summary, err := svc.Dashboard.Summarize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalLogs)

	_, err = svc.Analyzer.Analyze(context.Background(), models.AnalyzeRequest{
		Prompt:     "The [MASK] is here.",
		ModelNames: []string{"not-registered"},
	})
	assert.EqualError(t, err, "Model not-registered not found")

	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log store", func(c *config.Config) { c.LogStore = "cassandra" }, `unknown LOG_STORE "cassandra"`},
		{"job store", func(c *config.Config) { c.JobStore = "etcd" }, `unknown JOB_STORE "etcd"`},
		{"artifact store", func(c *config.Config) { c.ArtifactStore = "gcs" }, `unknown ARTIFACT_STORE "gcs"`},
		{"toxicity", func(c *config.Config) { c.Toxicity.Backend = "perspective" }, `unknown TOXICITY_BACKEND "perspective"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)

			_, err := Build(context.Background(), cfg)
			assert.EqualError(t, err, tt.want)
		})
	}
}
