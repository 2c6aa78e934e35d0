package processor

import (
	"errors"
	"fmt"
	"fraud_scorer/internal/domain"
	"math"
)

// Policy holds the blend weights and label thresholds. The defaults are
// product policy; changing them is a configuration decision.
type Policy struct {
	RuleWeight      float64 `json:"rule_weight"`
	HeuristicWeight float64 `json:"heuristic_weight"`
	FraudThreshold  float64 `json:"fraud_threshold"`
	ReviewThreshold float64 `json:"review_threshold"`
}

func DefaultPolicy() Policy {
	return Policy{
		RuleWeight:      0.6,
		HeuristicWeight: 0.4,
		FraudThreshold:  0.60,
		ReviewThreshold: 0.35,
	}
}

func (p Policy) Validate() error {
	var errs []error

	if p.RuleWeight < 0 || p.HeuristicWeight < 0 {
		errs = append(errs, errors.New("blend weights must be non-negative"))
	}
	if math.Abs(p.RuleWeight+p.HeuristicWeight-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("blend weights must sum to 1, got %.4f", p.RuleWeight+p.HeuristicWeight))
	}
	if p.ReviewThreshold <= 0 || p.FraudThreshold > 1 || p.ReviewThreshold >= p.FraudThreshold {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < review (%.2f) < fraud (%.2f) <= 1", p.ReviewThreshold, p.FraudThreshold))
	}

	return errors.Join(errs...)
}

type Blender struct {
	policy Policy
}

func NewBlender(policy Policy) *Blender {
	return &Blender{policy: policy}
}

func (b *Blender) Policy() Policy {
	return b.policy
}

// Blend combines the two scores. Thresholds are closed: a score equal to a
// threshold takes the higher label.
func (b *Blender) Blend(ruleScore, heuristicScore float64) (float64, domain.RiskLabel) {
	final := round2(b.policy.RuleWeight*ruleScore + b.policy.HeuristicWeight*heuristicScore)
	return final, b.Label(final)
}

func (b *Blender) Label(final float64) domain.RiskLabel {
	switch {
	case final >= b.policy.FraudThreshold:
		return domain.LabelLikelyFraud
	case final >= b.policy.ReviewThreshold:
		return domain.LabelReview
	default:
		return domain.LabelOK
	}
}
