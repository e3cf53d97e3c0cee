package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openAIRequestTimeout = 60 * time.Second // Timeout for individual OpenAI API requests
)

type OpenAIClient struct {
	Client *openai.Client
}

func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		slog.Error("[OpenAIClient] Missing OPENAI_API_KEY in environment variables")
		return nil, errors.New("[OpenAIClient] missing OPENAI_API_KEY")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: openAIRequestTimeout}),
	)
	slog.Info("[OpenAIClient] OpenAI client initialized with custom HTTP timeout",
		slog.Duration("timeout", openAIRequestTimeout))

	return &OpenAIClient{Client: client}, nil
}

// Complete asks a chat model to continue prompt, bounded to maxTokens.
func (o *OpenAIClient) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	completion, err := o.Client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Continue the user's text. Reply with the continuation only."),
			openai.UserMessage(prompt),
		}),
		Model:     openai.F(openai.ChatModel(model)),
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		slog.Error("[OpenAIClient] Chat completion failed",
			slog.String("model", model),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("chat completion for %s: %w", model, err)
	}

	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("chat completion for %s returned an empty response", model)
	}

	slog.Debug("[OpenAIClient] Chat completion successful",
		slog.String("model", model),
		slog.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
