package service

import (
	"context"
	"errors"
	"fraud_scorer/internal/domain"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull     = errors.New("insight queue full")
	ErrServiceClosed = errors.New("insight service closed")
)

// InsightSink receives every published insight. Deliver is called from a
// worker goroutine and may block for as long as its context allows.
type InsightSink interface {
	Name() string
	Deliver(ctx context.Context, insight domain.Insight) error
}

// InsightService fans insights out to its sinks on a fixed worker pool.
// Publishing never blocks the scoring path.
type InsightService struct {
	sinks          []InsightSink
	queue          chan domain.Insight
	workers        int
	deliverTimeout time.Duration
	shutdownChan   chan struct{}
	mu             sync.RWMutex // guards closed against in-flight sends
	closed         bool
	wg             sync.WaitGroup
	onDrop         func()
	logger         *slog.Logger
}

func NewInsightService(sinks []InsightSink, workers, queueSize int, logger *slog.Logger) *InsightService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	service := &InsightService{
		sinks:          sinks,
		queue:          make(chan domain.Insight, queueSize),
		workers:        workers,
		deliverTimeout: 5 * time.Second,
		shutdownChan:   make(chan struct{}),
		logger:         logger,
	}

	service.startWorkers()

	return service
}

// OnDrop registers a callback for insights rejected by a full queue. Call it
// before publishing.
func (s *InsightService) OnDrop(fn func()) {
	s.onDrop = fn
}

func (s *InsightService) Publish(insight domain.Insight) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrServiceClosed
	}

	select {
	case s.queue <- insight:
		return nil
	default:
		if s.onDrop != nil {
			s.onDrop()
		}
		s.logger.Warn("Insight dropped, queue full", slog.String("event_id", insight.EventID))
		return ErrQueueFull
	}
}

func (s *InsightService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *InsightService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Insight worker started", slog.Int("worker_id", id))

	for {
		select {
		case insight := <-s.queue:
			s.deliver(insight, id)
		case <-s.shutdownChan:
			s.drain(id)
			s.logger.Debug("Insight worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

// drain delivers whatever is still queued when shutdown starts.
func (s *InsightService) drain(workerID int) {
	for {
		select {
		case insight := <-s.queue:
			s.deliver(insight, workerID)
		default:
			return
		}
	}
}

func (s *InsightService) deliver(insight domain.Insight, workerID int) {
	for _, sink := range s.sinks {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.deliverTimeout)
		err := sink.Deliver(ctx, insight)
		cancel()

		if err != nil {
			s.logger.Error("Failed to deliver insight",
				slog.String("sink", sink.Name()),
				slog.String("event_id", insight.EventID),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
				slog.Duration("duration", time.Since(startTime)))
		}
	}
}

func (s *InsightService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.shutdownChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Insight service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
