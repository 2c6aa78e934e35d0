package stream

import (
	"context"
	"errors"
	"fraud_scorer/internal/domain"
	"fraud_scorer/pkg/validator"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type TransactionScorer interface {
	Score(ctx context.Context, tx *domain.Transaction) *domain.Verdict
}

// NewScoringHandler decodes each message as a transaction and scores it.
// Messages that are not JSON objects are logged and committed so they do
// not block the partition.
func NewScoringHandler(v *validator.TransactionValidator, scorer TransactionScorer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, m kafkago.Message) error {
		receivedAt := m.Time
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}

		tx, err := v.DecodeBytes(m.Value, receivedAt)
		if err != nil {
			if errors.Is(err, validator.ErrInvalidPayload) {
				logger.WarnContext(ctx, "Skipping undecodable message",
					slog.String("topic", m.Topic),
					slog.Int64("offset", m.Offset),
					slog.String("error", err.Error()))
				return nil
			}
			return err
		}

		verdict := scorer.Score(ctx, tx)
		logger.DebugContext(ctx, "Scored streamed transaction",
			slog.String("event_id", verdict.EventID),
			slog.String("label", string(verdict.Label)))
		return nil
	}
}
