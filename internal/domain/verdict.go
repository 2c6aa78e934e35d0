package domain

import (
	"time"
)

type RiskLabel string

const (
	LabelOK          RiskLabel = "OK"
	LabelReview      RiskLabel = "REVIEW"
	LabelLikelyFraud RiskLabel = "LIKELY_FRAUD"
)

// RuleFlags are derived per evaluation and never stored on their own.
type RuleFlags struct {
	CategoryMismatch bool `json:"category_mismatch"`
	GeoInvalid       bool `json:"geo_invalid"`
	AmountHigh       bool `json:"amount_high"`
	VelocityBurst    bool `json:"velocity_burst"`
	HighAmount       bool `json:"high_amount"`

	// ExpectedCategory is the category implied by the merchant name, empty
	// when no merchant table entry matched.
	ExpectedCategory string `json:"-"`
}

func (f RuleFlags) Count() int {
	n := 0
	for _, set := range []bool{f.CategoryMismatch, f.GeoInvalid, f.AmountHigh, f.VelocityBurst, f.HighAmount} {
		if set {
			n++
		}
	}
	return n
}

func (f RuleFlags) AsMap() map[string]bool {
	return map[string]bool{
		"category_mismatch": f.CategoryMismatch,
		"geo_invalid":       f.GeoInvalid,
		"amount_high":       f.AmountHigh,
		"velocity_burst":    f.VelocityBurst,
		"high_amount":       f.HighAmount,
	}
}

type Verdict struct {
	EventID        string    `json:"event_id"`
	Fingerprint    string    `json:"card_fingerprint"`
	RuleScore      float64   `json:"rule_score"`
	HeuristicScore float64   `json:"heuristic_score"`
	FinalScore     float64   `json:"final_score"`
	Label          RiskLabel `json:"label"`
	Flags          RuleFlags `json:"flags"`
	Explanation    string    `json:"explanation"`
	AdvisoryUsed   bool      `json:"advisory_used"`
	Degraded       bool      `json:"degraded"`
	ScoredAt       time.Time `json:"scored_at"`
}

// Insight is the dashboard/stream projection of a scored transaction.
type Insight struct {
	EventID     string    `json:"event_id"`
	Risk        RiskLabel `json:"risk"`
	Score       float64   `json:"score"`
	Explanation string    `json:"explanation"`
	Timestamp   time.Time `json:"ts"`
	Card        string    `json:"card_fingerprint,omitempty"`
	Amount      float64   `json:"amount"`
	Merchant    string    `json:"merchant,omitempty"`
}

func NewInsight(tx *Transaction, v *Verdict) Insight {
	insight := Insight{
		EventID:     v.EventID,
		Risk:        v.Label,
		Score:       v.FinalScore,
		Explanation: v.Explanation,
		Timestamp:   v.ScoredAt,
		Card:        v.Fingerprint,
	}
	if tx != nil {
		insight.Amount = tx.AmountFloat()
		insight.Merchant = tx.MerchantName
	}
	return insight
}

// Advice is a score proposed by an external advisory model.
type Advice struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}
