package repository

import (
	"context"
	"errors"
	"fraud_scorer/internal/domain"
)

// VelocityStore keeps, per card fingerprint, the event timestamps (unix
// milliseconds) seen inside a trailing window.
type VelocityStore interface {
	// Append drops the leading entries older than at-window, appends at and
	// returns the number of retained entries. Calls for the same key are
	// serialized.
	Append(ctx context.Context, key string, at int64, window int64) (int, error)
	// Expire removes keys not touched since idleBefore (unix milliseconds)
	// and returns how many were removed.
	Expire(ctx context.Context, idleBefore int64) (int, error)
}

type VerdictRepository interface {
	Save(ctx context.Context, verdict *domain.Verdict) error
	GetByEventID(ctx context.Context, eventID string) (*domain.Verdict, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Verdict, error)
	CountByLabel(ctx context.Context) (map[domain.RiskLabel]int, error)
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
