package processor

import (
	"context"
	"fmt"
	"fraud_scorer/internal/repository"
	"log/slog"
	"time"
)

const (
	DefaultVelocityWindow = 2000 * time.Millisecond
	DefaultIdleTTL        = 10 * time.Minute

	burstThreshold = 3
)

// VelocityTracker answers whether a card is bursting: burstThreshold or more
// events inside the trailing window, counting the one being registered.
type VelocityTracker struct {
	store   repository.VelocityStore
	window  time.Duration
	idleTTL time.Duration
	logger  *slog.Logger
}

func NewVelocityTracker(store repository.VelocityStore, window, idleTTL time.Duration, logger *slog.Logger) *VelocityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultVelocityWindow
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}

	return &VelocityTracker{
		store:   store,
		window:  window,
		idleTTL: idleTTL,
		logger:  logger,
	}
}

func (t *VelocityTracker) Register(ctx context.Context, fingerprint string, at time.Time) (bool, error) {
	count, err := t.store.Append(ctx, fingerprint, at.UnixMilli(), t.window.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("velocity register: %w", err)
	}
	return count >= burstThreshold, nil
}

func (t *VelocityTracker) Window() time.Duration {
	return t.window
}

// Sweep drops fingerprints that have been idle for longer than idleTTL.
func (t *VelocityTracker) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := t.store.Expire(ctx, now.Add(-t.idleTTL).UnixMilli())
	if err != nil {
		return removed, fmt.Errorf("velocity sweep: %w", err)
	}
	if removed > 0 {
		t.logger.DebugContext(ctx, "Expired idle velocity windows", slog.Int("removed", removed))
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (t *VelocityTracker) RunSweeper(ctx context.Context, interval time.Duration, after func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := t.Sweep(ctx, now)
			if err != nil {
				t.logger.WarnContext(ctx, "Velocity sweep failed", slog.String("error", err.Error()))
				continue
			}
			if after != nil {
				after(removed)
			}
		}
	}
}
