package processor

import (
	"fraud_scorer/internal/domain"
	"math"
	"strings"
)

const coOccurrenceBonus = 0.15

// RulePattern is one weighted flag. Weights are not normalized: several
// flags together can pass 1.0 and are clamped.
type RulePattern struct {
	Name        string
	Description string
	Weight      float64
	Detect      func(domain.RuleFlags) bool
}

type RuleEvaluator struct {
	patterns []RulePattern
}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{
		patterns: []RulePattern{
			{
				Name:        "category_mismatch",
				Description: "Merchant implies a different category than declared",
				Weight:      0.40,
				Detect:      func(f domain.RuleFlags) bool { return f.CategoryMismatch },
			},
			{
				Name:        "geo_invalid",
				Description: "City and state form a known-invalid pair",
				Weight:      0.35,
				Detect:      func(f domain.RuleFlags) bool { return f.GeoInvalid },
			},
			{
				Name:        "amount_high",
				Description: "Amount exceeds the category cap",
				Weight:      0.25,
				Detect:      func(f domain.RuleFlags) bool { return f.AmountHigh },
			},
			{
				Name:        "velocity_burst",
				Description: "Three or more events for the card inside the window",
				Weight:      0.30,
				Detect:      func(f domain.RuleFlags) bool { return f.VelocityBurst },
			},
			{
				Name:        "high_amount",
				Description: "Amount exceeds the absolute ceiling",
				Weight:      0.20,
				Detect:      func(f domain.RuleFlags) bool { return f.HighAmount },
			},
		},
	}
}

// Evaluate is a pure function of tx and burst.
func (e *RuleEvaluator) Evaluate(tx *domain.Transaction, burst bool) (float64, domain.RuleFlags) {
	flags := e.Flags(tx, burst)
	return e.ScoreFlags(flags), flags
}

func (e *RuleEvaluator) Flags(tx *domain.Transaction, burst bool) domain.RuleFlags {
	var flags domain.RuleFlags

	if expected, ok := expectedCategory(strings.ToLower(tx.MerchantName)); ok {
		flags.ExpectedCategory = expected
		flags.CategoryMismatch = expected != tx.Category
	}

	flags.GeoInvalid = isDeniedLocation(tx.City, tx.State)
	flags.AmountHigh = tx.Amount.GreaterThan(capForCategory(tx.Category))
	flags.HighAmount = tx.Amount.GreaterThan(absoluteCeiling)
	flags.VelocityBurst = burst

	return flags
}

func (e *RuleEvaluator) ScoreFlags(flags domain.RuleFlags) float64 {
	var score float64
	triggered := 0

	for _, pattern := range e.patterns {
		if pattern.Detect(flags) {
			score += pattern.Weight
			triggered++
		}
	}

	if triggered >= 2 {
		score += coOccurrenceBonus
	}

	return round2(clamp01(score))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
