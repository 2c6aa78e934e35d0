package processor

import (
	"context"
	"errors"
	"fmt"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/traces"
	"log/slog"
	"time"
)

// DegradedScore is reported when scoring fails. It sits in the REVIEW band
// under the default policy so a failure never reads as OK.
const DegradedScore = 0.55

// MetricsRecorder is the slice of the metrics collector the pipeline uses.
type MetricsRecorder interface {
	RecordVerdict(label string, score float64, duration time.Duration, degraded bool)
	RecordAdvisory(used bool)
}

type ScoringPipeline struct {
	velocity  *VelocityTracker
	rules     *RuleEvaluator
	heuristic *HeuristicScorer
	blender   *Blender
	metrics   MetricsRecorder
	now       func() time.Time
	logger    *slog.Logger
}

func NewScoringPipeline(
	velocity *VelocityTracker,
	rules *RuleEvaluator,
	heuristic *HeuristicScorer,
	blender *Blender,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *ScoringPipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &ScoringPipeline{
		velocity:  velocity,
		rules:     rules,
		heuristic: heuristic,
		blender:   blender,
		metrics:   metrics,
		now:       time.Now,
		logger:    logger,
	}
}

// ScoreTransaction always returns a verdict. Internal failures, including
// panics in a stage, produce a degraded REVIEW verdict instead of an error.
func (p *ScoringPipeline) ScoreTransaction(ctx context.Context, tx *domain.Transaction) (verdict *domain.Verdict) {
	startTime := p.now()

	var eventID, card string
	if tx != nil {
		eventID, card = tx.EventID, tx.Fingerprint
	}
	ctx, span := traces.StartSpan(ctx, "processor.ScoreTransaction", traces.EventID(eventID), traces.Card(card))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			verdict = p.degraded(ctx, tx, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(traces.Label(string(verdict.Label)), traces.Score(verdict.FinalScore))
		if p.metrics != nil {
			p.metrics.RecordVerdict(string(verdict.Label), verdict.FinalScore, p.now().Sub(startTime), verdict.Degraded)
		}
	}()

	if tx == nil {
		return p.degraded(ctx, tx, errors.New("no transaction"))
	}

	// The velocity lock is taken and released inside Register, before any
	// advisory call is made.
	burst, err := p.velocity.Register(ctx, tx.Fingerprint, tx.Timestamp)
	if err != nil {
		return p.degraded(ctx, tx, err)
	}

	ruleScore, flags := p.rules.Evaluate(tx, burst)
	heuristic := p.heuristic.Score(ctx, tx, flags)
	if p.metrics != nil {
		p.metrics.RecordAdvisory(heuristic.AdvisoryUsed)
	}
	finalScore, label := p.blender.Blend(ruleScore, heuristic.Score)

	verdict = &domain.Verdict{
		EventID:        tx.EventID,
		Fingerprint:    tx.Fingerprint,
		RuleScore:      ruleScore,
		HeuristicScore: heuristic.Score,
		FinalScore:     finalScore,
		Label:          label,
		Flags:          flags,
		Explanation:    heuristic.Explanation,
		AdvisoryUsed:   heuristic.AdvisoryUsed,
		ScoredAt:       p.now(),
	}

	p.logger.InfoContext(ctx, "Transaction scored",
		slog.String("event_id", tx.EventID),
		slog.String("card", tx.Fingerprint),
		slog.String("label", string(label)),
		slog.Float64("final_score", finalScore),
		slog.Float64("rule_score", ruleScore),
		slog.Float64("heuristic_score", heuristic.Score),
		slog.Int("flags", flags.Count()))

	return verdict
}

func (p *ScoringPipeline) Policy() Policy {
	return p.blender.Policy()
}

func (p *ScoringPipeline) VelocityWindow() time.Duration {
	return p.velocity.Window()
}

func (p *ScoringPipeline) degraded(ctx context.Context, tx *domain.Transaction, cause error) *domain.Verdict {
	v := &domain.Verdict{
		RuleScore:      DegradedScore,
		HeuristicScore: DegradedScore,
		FinalScore:     DegradedScore,
		Label:          domain.LabelReview,
		Explanation:    "Analysis failed: " + cause.Error(),
		Degraded:       true,
		ScoredAt:       p.now(),
	}
	if tx != nil {
		v.EventID = tx.EventID
		v.Fingerprint = tx.Fingerprint
	}

	p.logger.ErrorContext(ctx, "Scoring failed, returning degraded verdict",
		slog.String("event_id", v.EventID),
		slog.String("error", cause.Error()))

	return v
}
