package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"golang.org/x/oauth2"
)

// HuggingFaceClient talks to the Hugging Face Inference API and the
// datasets-server rows API.
type HuggingFaceClient struct {
	Client      *http.Client
	APIURL      string
	DatasetsURL string

	maxRetries     int
	initialBackoff time.Duration
}

func NewHuggingFaceClient(cfg config.HuggingFaceConfig) *HuggingFaceClient {
	httpClient := &http.Client{}
	if cfg.Token != "" {
		httpClient = oauth2.NewClient(context.Background(),
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	}
	httpClient.Timeout = cfg.Timeout

	slog.Info("[HuggingFaceClient] Initializing Client",
		slog.Duration("timeout", cfg.Timeout),
		slog.String("api_url", cfg.APIURL),
		slog.Bool("authenticated", cfg.Token != ""))

	return &HuggingFaceClient{
		Client:         httpClient,
		APIURL:         strings.TrimRight(cfg.APIURL, "/"),
		DatasetsURL:    strings.TrimRight(cfg.DatasetsURL, "/"),
		maxRetries:     MAX_RETRIES,
		initialBackoff: INITIAL_BACKOFF,
	}
}

// WithRetryPolicy overrides the retry budget. Mostly useful in tests.
func (h *HuggingFaceClient) WithRetryPolicy(retries int, backoff time.Duration) *HuggingFaceClient {
	if retries < 1 {
		retries = 1
	}
	h.maxRetries = retries
	h.initialBackoff = backoff
	return h
}

func (h *HuggingFaceClient) DoWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	backoff := h.initialBackoff

	for attempt := 0; attempt < h.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = h.Client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		slog.Warn("[HuggingFaceClient] Request failed, will retry",
			slog.Int("attempt", attempt+1),
			slog.String("url", req.URL.String()),
			slog.String("error", errMsg(err, resp)))

		if attempt == h.maxRetries-1 {
			break
		}
		if resp != nil {
			resp.Body.Close()
		}

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > MAX_BACKOFF {
			backoff = MAX_BACKOFF
		}
	}

	if err == nil && resp != nil {
		resp.Body.Close()
		err = fmt.Errorf("status code %d", resp.StatusCode)
	}
	return nil, err
}

// FillMask returns the ranked candidates for the single mask token in input.
func (h *HuggingFaceClient) FillMask(ctx context.Context, modelPath, input string, topK int) (models.FillMaskResponse, error) {
	var result models.FillMaskResponse
	start := time.Now()

	err := h.postJSON(ctx, h.modelEndpoint(modelPath), models.FillMaskRequest{
		Inputs:     input,
		Parameters: models.FillMaskParameters{TopK: topK},
	}, &result)
	if err != nil {
		slog.Error("[HuggingFaceClient] Fill-mask request failed",
			slog.String("model", modelPath),
			slog.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	slog.Debug("[HuggingFaceClient] Fill-mask request successful",
		slog.String("model", modelPath),
		slog.Int("candidates", len(result)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// GenerateText returns a single continuation of input, including the prompt.
func (h *HuggingFaceClient) GenerateText(ctx context.Context, modelPath, input string, maxNewTokens int) (string, error) {
	var result models.TextGenerationResponse
	start := time.Now()

	err := h.postJSON(ctx, h.modelEndpoint(modelPath), models.TextGenerationRequest{
		Inputs: input,
		Parameters: models.TextGenerationParameters{
			MaxNewTokens:       maxNewTokens,
			NumReturnSequences: 1,
			ReturnFullText:     true,
		},
	}, &result)
	if err != nil {
		slog.Error("[HuggingFaceClient] Text generation request failed",
			slog.String("model", modelPath),
			slog.Duration("elapsed", time.Since(start)))
		return "", err
	}
	if len(result) == 0 {
		return "", fmt.Errorf("text generation for %s returned no sequences", modelPath)
	}

	slog.Debug("[HuggingFaceClient] Text generation request successful",
		slog.String("model", modelPath),
		slog.Duration("elapsed", time.Since(start)))
	return result[0].GeneratedText, nil
}

// ClassifyText runs a text-classification model over every input.
func (h *HuggingFaceClient) ClassifyText(ctx context.Context, modelPath string, inputs []string) (models.TextClassificationResponse, error) {
	var result models.TextClassificationResponse
	if err := h.postJSON(ctx, h.modelEndpoint(modelPath), models.TextClassificationRequest{Inputs: inputs}, &result); err != nil {
		slog.Error("[HuggingFaceClient] Text classification request failed",
			slog.String("model", modelPath),
			slog.String("error", err.Error()))
		return nil, err
	}
	if len(result) != len(inputs) {
		return nil, fmt.Errorf("text classification for %s returned %d results for %d inputs",
			modelPath, len(result), len(inputs))
	}
	return result, nil
}

// DatasetRows reads a page of rows from the datasets-server. The server caps
// length at 100.
func (h *HuggingFaceClient) DatasetRows(ctx context.Context, dataset, cfg, split string, offset, length int) (models.DatasetRowsResponse, error) {
	var result models.DatasetRowsResponse

	q := url.Values{}
	q.Set("dataset", dataset)
	q.Set("config", cfg)
	q.Set("split", split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(length))
	endpoint := h.DatasetsURL + "/rows?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return result, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", USER_AGENT)

	if err := h.do(req, &result); err != nil {
		slog.Error("[HuggingFaceClient] Dataset rows request failed",
			slog.String("dataset", dataset),
			slog.Int("offset", offset),
			slog.String("error", err.Error()))
		return result, err
	}
	return result, nil
}

// ModelStatus checks that the Inference API can serve modelPath. It does
// not retry so a health poll stays cheap.
func (h *HuggingFaceClient) ModelStatus(ctx context.Context, modelPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.APIURL+"/status/"+modelPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", USER_AGENT)

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status check for %s returned %d", modelPath, resp.StatusCode)
	}
	return nil
}

func (h *HuggingFaceClient) modelEndpoint(modelPath string) string {
	return h.APIURL + "/models/" + modelPath
}

func (h *HuggingFaceClient) postJSON(ctx context.Context, endpoint string, input interface{}, output interface{}) error {
	body, err := json.Marshal(input)
	if err != nil {
		slog.Error("[HuggingFaceClient] Failed to marshal input",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", USER_AGENT)
	req.Header.Set("X-Wait-For-Model", "true")

	return h.do(req, output)
}

func (h *HuggingFaceClient) do(req *http.Request, output interface{}) error {
	endpoint := req.URL.String()

	resp, err := h.DoWithRetry(req)
	if err != nil {
		slog.Error("[HuggingFaceClient] Failed request after retries",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return fmt.Errorf("request failed after retries: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		slog.Error("[HuggingFaceClient] Unexpected status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			getPreview(respBody))
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	if err := json.Unmarshal(respBody, output); err != nil {
		slog.Error("[HuggingFaceClient] Failed to unmarshal response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
			getPreview(respBody),
			slog.Int("raw_response_length", len(respBody)))

		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func getPreview(respBody []byte) slog.Attr {
	raw := string(respBody)
	if len(raw) > 50 {
		raw = raw[:50]
	}
	return slog.String("raw_response", raw)
}

func errMsg(err error, resp *http.Response) string {
	if err != nil {
		return err.Error()
	}
	if resp != nil {
		return fmt.Sprintf("status code %d", resp.StatusCode)
	}
	return "unknown error"
}
