package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

const SUBSCRIBER_BUFFER = 8

// AlertHub fans alerts out to every subscriber. A subscriber that falls
// behind misses alerts rather than blocking the others. The alert for the
// record that is still the newest is replayed to late subscribers.
type AlertHub struct {
	mu          sync.Mutex
	subscribers map[chan models.Alert]struct{}
	current     *models.Alert
}

func NewAlertHub() *AlertHub {
	return &AlertHub{subscribers: make(map[chan models.Alert]struct{})}
}

// Subscribe returns the alert channel and a func that unsubscribes and
// closes it.
func (h *AlertHub) Subscribe() (<-chan models.Alert, func()) {
	ch := make(chan models.Alert, SUBSCRIBER_BUFFER)
	h.mu.Lock()
	if h.current != nil {
		ch <- *h.current
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *AlertHub) Broadcast(alert models.Alert) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = &alert

	delivered := 0
	for ch := range h.subscribers {
		select {
		case ch <- alert:
			delivered++
		default:
			slog.Warn("[AlertHub] Subscriber is slow, dropping alert")
		}
	}
	return delivered
}

// Clear drops the replayed alert once the newest record is no longer biased.
func (h *AlertHub) Clear() {
	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()
}

func (h *AlertHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// BiasAlertMonitor polls the newest audit record and raises one alert per
// biased record.
type BiasAlertMonitor struct {
	store       db.LogStore
	hub         *AlertHub
	lastAlerted string
}

func NewBiasAlertMonitor(store db.LogStore, hub *AlertHub) *BiasAlertMonitor {
	return &BiasAlertMonitor{store: store, hub: hub}
}

// Run polls every interval until ctx is cancelled.
func (m *BiasAlertMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("[BiasAlertMonitor] Watching for biased outputs",
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			slog.Info("[BiasAlertMonitor] Stopping...")
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				slog.Warn("[BiasAlertMonitor] Poll failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Check looks at the latest record once and broadcasts when it is biased and
// not yet alerted. Subscribers that join later still get the alert from the
// hub for as long as that record stays the newest.
func (m *BiasAlertMonitor) Check(ctx context.Context) (*models.Alert, error) {
	latest, err := m.store.Latest(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 || !latest[0].Biased {
		m.hub.Clear()
		return nil, nil
	}

	record := latest[0]
	if record.ID == m.lastAlerted {
		return nil, nil
	}
	m.lastAlerted = record.ID

	alert := models.Alert{
		Alert:    fmt.Sprintf("Biased output detected in %s", record.Model),
		RecordID: record.ID,
	}
	delivered := m.hub.Broadcast(alert)
	slog.Info("[BiasAlertMonitor] Alert raised",
		slog.String("model", record.Model),
		slog.String("record_id", record.ID),
		slog.Int("subscribers", delivered))
	return &alert, nil
}
