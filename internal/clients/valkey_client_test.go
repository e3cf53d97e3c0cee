package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryValkey_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := retryValkey(context.Background(), 3, time.Millisecond, func(attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return errors.New("EOF")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryValkey_NoWaitAfterLastAttempt(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retryValkey(context.Background(), 1, time.Hour, func(int) error {
		calls++
		return errors.New("connection refused")
	})
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryValkey_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := retryValkey(ctx, 3, time.Hour, func(int) error {
		calls++
		return errors.New("i/o timeout")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}
