package clients

import "time"

const (
	MAX_RETRIES     = 5
	INITIAL_BACKOFF = 1 * time.Second
	MAX_BACKOFF     = 32 * time.Second

	VALKEY_RETRY_DELAY = 250 * time.Millisecond
	USER_AGENT         = "llm-bias-analyzer/1.0 (+https://github.com/NikhilOO7/llm-bias-analyzer)"
)
