package service

import (
	"context"
	"errors"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/repository"
	"log/slog"
)

type Scorer interface {
	ScoreTransaction(ctx context.Context, tx *domain.Transaction) *domain.Verdict
}

// ScoringService is the single entry point shared by the HTTP and Kafka
// transports: score, persist, then publish.
type ScoringService struct {
	scorer   Scorer
	verdicts repository.VerdictRepository
	insights *InsightService
	logger   *slog.Logger
}

func NewScoringService(scorer Scorer, verdicts repository.VerdictRepository, insights *InsightService, logger *slog.Logger) *ScoringService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringService{
		scorer:   scorer,
		verdicts: verdicts,
		insights: insights,
		logger:   logger,
	}
}

// Score never fails. Persistence and publishing errors are logged and the
// verdict is still returned.
func (s *ScoringService) Score(ctx context.Context, tx *domain.Transaction) *domain.Verdict {
	verdict := s.scorer.ScoreTransaction(ctx, tx)

	if s.verdicts != nil {
		if err := s.verdicts.Save(ctx, verdict); err != nil {
			level := slog.LevelError
			if errors.Is(err, repository.ErrDuplicate) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "Failed to store verdict",
				slog.String("event_id", verdict.EventID),
				slog.String("error", err.Error()))
		}
	}

	if verdict.Label == domain.LabelLikelyFraud {
		s.logger.WarnContext(ctx, "Fraud alert",
			slog.String("event_id", verdict.EventID),
			slog.String("card", verdict.Fingerprint),
			slog.Float64("score", verdict.FinalScore),
			slog.String("explanation", verdict.Explanation))
	}

	if s.insights != nil {
		// A full queue is already logged by the service.
		if err := s.insights.Publish(domain.NewInsight(tx, verdict)); err != nil && !errors.Is(err, ErrQueueFull) {
			s.logger.WarnContext(ctx, "Insight not published",
				slog.String("event_id", verdict.EventID),
				slog.String("error", err.Error()))
		}
	}

	return verdict
}
