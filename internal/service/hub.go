package service

import (
	"context"
	"fraud_scorer/internal/domain"
	"log/slog"
	"sync"
)

const (
	DefaultRecentInsights = 50
	subscriberBuffer      = 32
)

// Hub is the live dashboard feed. It keeps the most recent insights so a new
// subscriber can be primed before streaming starts.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan domain.Insight]struct{}
	recent      []domain.Insight
	next        int
	full        bool
	done        chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger
}

func NewHub(recentSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if recentSize <= 0 {
		recentSize = DefaultRecentInsights
	}
	return &Hub{
		subscribers: make(map[chan domain.Insight]struct{}),
		recent:      make([]domain.Insight, recentSize),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

func (h *Hub) Name() string { return "hub" }

// Deliver records the insight and offers it to every subscriber. Slow
// subscribers miss insights rather than stall the feed.
func (h *Hub) Deliver(ctx context.Context, insight domain.Insight) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent[h.next] = insight
	h.next = (h.next + 1) % len(h.recent)
	if h.next == 0 {
		h.full = true
	}

	for ch := range h.subscribers {
		select {
		case ch <- insight:
		default:
			h.logger.Debug("Subscriber lagging, insight skipped", slog.String("event_id", insight.EventID))
		}
	}
	return nil
}

// Subscribe returns a live channel, a snapshot of recent insights (oldest
// first) and a cancel func that must be called once.
func (h *Hub) Subscribe() (<-chan domain.Insight, []domain.Insight, func()) {
	ch := make(chan domain.Insight, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	snapshot := h.recentLocked()
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
	return ch, snapshot, cancel
}

// Close tells subscribers to finish. Streams watch Done so that server
// shutdown does not wait on open dashboard connections.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Recent() []domain.Insight {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recentLocked()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) recentLocked() []domain.Insight {
	if !h.full {
		return append([]domain.Insight(nil), h.recent[:h.next]...)
	}
	out := make([]domain.Insight, 0, len(h.recent))
	out = append(out, h.recent[h.next:]...)
	return append(out, h.recent[:h.next]...)
}
