package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/analysis"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/finetune"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModels []string

func (s stubModels) Names() []string { return s }

type stubAnalyzer struct {
	results []models.ModelResult
	err     error
	got     models.AnalyzeRequest
}

func (s *stubAnalyzer) Analyze(_ context.Context, req models.AnalyzeRequest) ([]models.ModelResult, error) {
	s.got = req
	return s.results, s.err
}

type stubDashboard struct{ summary models.DashboardSummary }

func (s stubDashboard) Summarize(context.Context) (models.DashboardSummary, error) {
	return s.summary, nil
}

type stubFineTune struct {
	job models.FineTuneJob
	err error
}

func (s stubFineTune) Submit(context.Context, models.FineTuneRequest) (models.FineTuneJob, error) {
	return s.job, s.err
}

func (s stubFineTune) Get(_ context.Context, id string) (models.FineTuneJob, error) {
	if id != s.job.ID {
		return models.FineTuneJob{}, finetune.ErrJobNotFound
	}
	return s.job, nil
}

type stubEvaluator struct{ got string }

func (s *stubEvaluator) Evaluate(_ context.Context, base string) (models.EvaluationResult, error) {
	s.got = base
	return models.EvaluationResult{BaseModel: base}, nil
}

type stubReporter struct{}

func (stubReporter) Generate(context.Context) ([]byte, error) {
	return []byte("%PDF-1.3"), nil
}

type stubAlerts struct{ ch chan models.Alert }

func (s stubAlerts) Subscribe() (<-chan models.Alert, func()) {
	return s.ch, func() {}
}

func newTestServer(t *testing.T, svc Services) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(srv.Close)
	return srv
}

func decodeDetail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["detail"]
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, Services{Models: stubModels{"bert-base-uncased", "gpt2"}})

	resp, err := http.Get(srv.URL + "/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"bert-base-uncased", "gpt2"}, body["models"])
}

func TestAnalyzeEndpoint(t *testing.T) {
	analyzer := &stubAnalyzer{results: []models.ModelResult{{
		Model:          "bert-base-uncased",
		Type:           models.ModelTypeMasked,
		TopPredictions: []string{"nurse"},
		BiasFlags:      []string{"No strong bias detected."},
		Sentiment:      models.SentimentNeutral,
	}}}
	srv := newTestServer(t, Services{Analyzer: analyzer})

	resp, err := http.Post(srv.URL+"/analyze", "application/json",
		strings.NewReader(`{"prompt":"The [MASK] is here.","model_names":["bert-base-uncased"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body models.AnalyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "nurse", body.Results[0].TopPredictions[0])
	assert.Equal(t, []string{"bert-base-uncased"}, analyzer.got.ModelNames)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		detail string
	}{
		{"unknown model", analysis.NotFound("Model %s not found", "nope"), `{"prompt":"x","model_names":["nope"]}`, http.StatusNotFound, "Model nope not found"},
		{"bad request", analysis.BadRequest("prompt must not be empty"), `{"prompt":"","model_names":["gpt2"]}`, http.StatusBadRequest, "prompt must not be empty"},
		{"malformed body", nil, `{"prompt":`, http.StatusBadRequest, ""},
		{"backend failure", errors.New("upstream exploded"), `{"prompt":"x","model_names":["gpt2"]}`, http.StatusInternalServerError, "upstream exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Services{Analyzer: &stubAnalyzer{err: tt.err}})

			resp, err := http.Post(srv.URL+"/analyze", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			detail := decodeDetail(t, resp)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, detail)
			} else {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestDashboardEndpoint(t *testing.T) {
	srv := newTestServer(t, Services{Dashboard: stubDashboard{summary: models.DashboardSummary{
		Dashboard:             []models.ModelBiasStats{{Model: "gpt2", TotalResponses: 4, BiasedResponses: 1, BiasPercentage: 25}},
		SentimentDistribution: map[string]int{"positive": 1, "neutral": 2, "negative": 1},
		TotalLogs:             4,
	}}})

	resp, err := http.Get(srv.URL + "/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body models.DashboardSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 4, body.TotalLogs)
	assert.Equal(t, 25.0, body.Dashboard[0].BiasPercentage)
}

func TestFineTuneEndpoints(t *testing.T) {
	job := models.FineTuneJob{ID: "job-1", BaseModel: "bert-base-uncased", Status: models.JobPending}
	srv := newTestServer(t, Services{FineTune: stubFineTune{job: job}})

	resp, err := http.Post(srv.URL+"/fine-tune", "application/json",
		strings.NewReader(`{"base_model":"bert-base-uncased","filters":{"model":"gpt2"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var started map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, "Fine-tuning started in background!", started["message"])
	assert.Equal(t, "job-1", started["job_id"])

	status, err := http.Get(srv.URL + "/fine-tune/job-1")
	require.NoError(t, err)
	defer status.Body.Close()
	var got models.FineTuneJob
	require.NoError(t, json.NewDecoder(status.Body).Decode(&got))
	assert.Equal(t, models.JobPending, got.Status)

	missing, err := http.Get(srv.URL + "/fine-tune/job-2")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestFineTuneRejectedAfterShutdown(t *testing.T) {
	srv := newTestServer(t, Services{FineTune: stubFineTune{err: finetune.ErrRunnerStopped}})

	resp, err := http.Post(srv.URL+"/fine-tune", "application/json", strings.NewReader(`{"base_model":"gpt2"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEvaluateAcceptsNamespacedModel(t *testing.T) {
	evaluator := &stubEvaluator{}
	srv := newTestServer(t, Services{Evaluator: evaluator})

	resp, err := http.Get(srv.URL + "/evaluate-fine-tuned/FacebookAI/roberta-base")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FacebookAI/roberta-base", evaluator.got)

	escaped, err := http.Get(srv.URL + "/evaluate-fine-tuned/FacebookAI%2Froberta-base")
	require.NoError(t, err)
	defer escaped.Body.Close()
	assert.Equal(t, "FacebookAI/roberta-base", evaluator.got)
}

func TestReportEndpoint(t *testing.T) {
	srv := newTestServer(t, Services{Reports: stubReporter{}})

	resp, err := http.Get(srv.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "llm_bias_report.pdf")
}

func TestHealthEndpoint(t *testing.T) {
	healthy := &atomic.Bool{}
	healthy.Store(true)
	srv := newTestServer(t, Services{Healthy: healthy})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.Store(false)
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAlertsWebSocket(t *testing.T) {
	alerts := stubAlerts{ch: make(chan models.Alert, 1)}
	srv := newTestServer(t, Services{Alerts: alerts})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	alerts.ch <- models.Alert{Alert: "High bias detected in gpt2 response!", RecordID: "r1"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, map[string]any{"alert": "High bias detected in gpt2 response!"}, got)
}
