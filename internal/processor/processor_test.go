package processor

import (
	"context"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/repository/memory"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func shellGasTransaction() *domain.Transaction {
	ts := time.Date(2025, 1, 15, 14, 54, 34, 967_000_000, time.UTC)
	return domain.NewTransaction("evt_test_001", "3565", decimal.RequireFromString("361.23"), ts).
		WithMerchant("Shell Gas", "Gas").
		WithLocation("Los Angeles", "PA")
}

func TestRuleEvaluator_Evaluate_ShellGasGeoAndCap(t *testing.T) {
	evaluator := NewRuleEvaluator()

	score, flags := evaluator.Evaluate(shellGasTransaction(), false)

	if !flags.GeoInvalid || !flags.AmountHigh {
		t.Errorf("expected geo_invalid and amount_high, got %+v", flags)
	}
	if flags.CategoryMismatch || flags.HighAmount || flags.VelocityBurst {
		t.Errorf("unexpected flags set: %+v", flags)
	}
	if flags.ExpectedCategory != "Gas" {
		t.Errorf("expected merchant to map to Gas, got %q", flags.ExpectedCategory)
	}
	// 0.35 + 0.25 + 0.15 co-occurrence bonus
	if score != 0.75 {
		t.Errorf("expected rule score 0.75, got %v", score)
	}
}

func TestRuleEvaluator_Evaluate_CategoryMismatchFirstMatchWins(t *testing.T) {
	evaluator := NewRuleEvaluator()
	tx := domain.NewTransaction("e1", "0001", decimal.NewFromInt(10), time.Now()).
		WithMerchant("Target Shell Station", "Shopping")

	score, flags := evaluator.Evaluate(tx, false)

	if flags.ExpectedCategory != "Gas" {
		t.Fatalf("expected the earlier table entry (shell) to win, got %q", flags.ExpectedCategory)
	}
	if !flags.CategoryMismatch {
		t.Errorf("expected mismatch between Gas and Shopping")
	}
	if score != 0.40 {
		t.Errorf("expected score 0.40 for a single mismatch, got %v", score)
	}
}

func TestRuleEvaluator_Evaluate_MerchantMatchIsCaseInsensitive(t *testing.T) {
	evaluator := NewRuleEvaluator()
	tx := domain.NewTransaction("e1", "0001", decimal.NewFromInt(5), time.Now()).
		WithMerchant("STARBUCKS #123", "Dining")

	_, flags := evaluator.Evaluate(tx, false)

	if flags.ExpectedCategory != "Dining" || flags.CategoryMismatch {
		t.Errorf("expected Dining with no mismatch, got %+v", flags)
	}
}

func TestRuleEvaluator_Evaluate_UnknownMerchantNeverMismatches(t *testing.T) {
	evaluator := NewRuleEvaluator()
	tx := domain.NewTransaction("e1", "0001", decimal.NewFromInt(5), time.Now()).
		WithMerchant("Corner Bakery", "Gas")

	_, flags := evaluator.Evaluate(tx, false)

	if flags.CategoryMismatch || flags.ExpectedCategory != "" {
		t.Errorf("expected no mismatch for an unlisted merchant, got %+v", flags)
	}
}

func TestRuleEvaluator_Evaluate_DefaultCap(t *testing.T) {
	evaluator := NewRuleEvaluator()

	tests := []struct {
		amount int64
		want   bool
	}{
		{290, false},
		{300, false},
		{301, true},
	}
	for _, tt := range tests {
		tx := domain.NewTransaction("e", "0001", decimal.NewFromInt(tt.amount), time.Now()).
			WithMerchant("Local Shop", "Pets")
		_, flags := evaluator.Evaluate(tx, false)
		if flags.AmountHigh != tt.want {
			t.Errorf("amount %d: expected amount_high=%v, got %v", tt.amount, tt.want, flags.AmountHigh)
		}
	}
}

func TestRuleEvaluator_Evaluate_AbsoluteCeiling(t *testing.T) {
	evaluator := NewRuleEvaluator()

	atCeiling := domain.NewTransaction("e", "0001", decimal.NewFromInt(1000), time.Now())
	overCeiling := domain.NewTransaction("e", "0001", decimal.RequireFromString("1000.01"), time.Now())

	if _, flags := evaluator.Evaluate(atCeiling, false); flags.HighAmount {
		t.Errorf("1000 must not exceed the ceiling")
	}
	if _, flags := evaluator.Evaluate(overCeiling, false); !flags.HighAmount {
		t.Errorf("1000.01 must exceed the ceiling")
	}
}

func TestRuleEvaluator_ScoreFlags_BoundedAndMonotonic(t *testing.T) {
	evaluator := NewRuleEvaluator()

	fromMask := func(mask int) domain.RuleFlags {
		return domain.RuleFlags{
			CategoryMismatch: mask&1 != 0,
			GeoInvalid:       mask&2 != 0,
			AmountHigh:       mask&4 != 0,
			VelocityBurst:    mask&8 != 0,
			HighAmount:       mask&16 != 0,
		}
	}

	for mask := 0; mask < 32; mask++ {
		score := evaluator.ScoreFlags(fromMask(mask))
		if score < 0 || score > 1 {
			t.Fatalf("mask %05b: score %v outside [0,1]", mask, score)
		}
		for bit := 0; bit < 5; bit++ {
			if mask&(1<<bit) != 0 {
				continue
			}
			if more := evaluator.ScoreFlags(fromMask(mask | 1<<bit)); more < score {
				t.Errorf("adding flag %d to %05b lowered score %v -> %v", bit, mask, score, more)
			}
		}
	}

	if got := evaluator.ScoreFlags(fromMask(31)); got != 1 {
		t.Errorf("all flags should saturate at 1.0, got %v", got)
	}
	if got := evaluator.ScoreFlags(fromMask(0)); got != 0 {
		t.Errorf("no flags should score 0, got %v", got)
	}
}

func TestVelocityTracker_Register_BurstAndExpiry(t *testing.T) {
	ctx := context.Background()
	tracker := NewVelocityTracker(memory.NewVelocityStore(), 0, 0, nil)
	base := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

	want := []bool{false, false, true}
	for i, offset := range []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond} {
		burst, err := tracker.Register(ctx, "3565", base.Add(offset))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if burst != want[i] {
			t.Errorf("event %d: expected burst=%v, got %v", i+1, want[i], burst)
		}
	}

	burst, _ := tracker.Register(ctx, "3565", base.Add(1500*time.Millisecond+5000*time.Millisecond))
	if burst {
		t.Errorf("expected no burst once the earlier events left the window")
	}
}

func TestVelocityTracker_Sweep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVelocityStore()
	tracker := NewVelocityTracker(store, time.Second, time.Minute, nil)

	_, _ = tracker.Register(ctx, "a", time.Now())
	removed, err := tracker.Sweep(ctx, time.Now().Add(2*time.Minute))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 || store.Len() != 0 {
		t.Errorf("expected idle key swept, removed=%d remaining=%d", removed, store.Len())
	}
}
