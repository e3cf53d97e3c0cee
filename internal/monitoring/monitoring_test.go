package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAlertHub_BroadcastAndUnsubscribe(t *testing.T) {
	hub := NewAlertHub()
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())

	assert.Equal(t, 2, hub.Broadcast(models.Alert{Alert: "x"}))
	assert.Equal(t, "x", (<-a).Alert)
	assert.Equal(t, "x", (<-b).Alert)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Broadcast(models.Alert{Alert: "y"}))
	unsubB()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestAlertHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewAlertHub()
	_, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < SUBSCRIBER_BUFFER; i++ {
		assert.Equal(t, 1, hub.Broadcast(models.Alert{Alert: "fill"}))
	}
	assert.Equal(t, 0, hub.Broadcast(models.Alert{Alert: "dropped"}))
}

func TestBiasAlertMonitor_Check(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	hub := NewAlertHub()
	ch, unsub := hub.Subscribe()
	defer unsub()
	m := NewBiasAlertMonitor(store, hub)

	alert, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, alert, "empty store raises nothing")

	now := time.Now()
	require.NoError(t, store.Insert(ctx, models.AuditRecord{ID: "1", Model: "gpt2", Biased: false, Timestamp: now}))
	alert, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, alert)

	require.NoError(t, store.Insert(ctx, models.AuditRecord{ID: "2", Model: "bert-base-uncased", Biased: true, Timestamp: now.Add(time.Second)}))
	alert, err = m.Check(ctx)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "Biased output detected in bert-base-uncased", alert.Alert)
	assert.Equal(t, "Biased output detected in bert-base-uncased", (<-ch).Alert)

	alert, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, alert, "the same record is alerted once")
}

func TestBiasAlertMonitor_LateSubscriberGetsCurrentAlert(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	hub := NewAlertHub()
	m := NewBiasAlertMonitor(store, hub)

	now := time.Now()
	require.NoError(t, store.Insert(ctx, models.AuditRecord{ID: "1", Model: "gpt2", Biased: true, Timestamp: now}))
	alert, err := m.Check(ctx)
	require.NoError(t, err)
	require.NotNil(t, alert)

	late, unsub := hub.Subscribe()
	defer unsub()
	for i := 0; i < 3; i++ {
		_, err := m.Check(ctx)
		require.NoError(t, err)
	}

	select {
	case got := <-late:
		assert.Equal(t, "Biased output detected in gpt2", got.Alert)
		assert.Equal(t, "1", got.RecordID)
	default:
		t.Fatal("late subscriber received no alert while the newest record is biased")
	}
	assert.Empty(t, late, "the alert is replayed once, not per poll")

	require.NoError(t, store.Insert(ctx, models.AuditRecord{ID: "2", Model: "gpt2", Biased: false, Timestamp: now.Add(time.Second)}))
	_, err = m.Check(ctx)
	require.NoError(t, err)

	after, unsubAfter := hub.Subscribe()
	defer unsubAfter()
	assert.Empty(t, after, "nothing is replayed once the newest record is clean")
}

func TestBiasAlertMonitor_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := db.NewMemoryStore()
	require.NoError(t, store.Insert(context.Background(),
		models.AuditRecord{ID: "1", Model: "gpt2", Biased: true, Timestamp: time.Now()}))
	hub := NewAlertHub()
	ch, unsub := hub.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewBiasAlertMonitor(store, hub).Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case alert := <-ch:
		assert.Equal(t, "Biased output detected in gpt2", alert.Alert)
	case <-time.After(time.Second):
		t.Fatal("no alert received")
	}
	cancel()
	<-done
}

func TestMonitorBackendHealth(t *testing.T) {
	defer goleak.VerifyNone(t)

	healthy := &atomic.Bool{}
	healthy.Store(true)
	var fail atomic.Bool
	fail.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		MonitorBackendHealth(ctx, "huggingface", func(context.Context) error {
			if fail.Load() {
				return errors.New("503")
			}
			return nil
		}, healthy, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return !healthy.Load() }, time.Second, 5*time.Millisecond)
	fail.Store(false)
	assert.Eventually(t, healthy.Load, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
