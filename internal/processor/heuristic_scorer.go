package processor

import (
	"context"
	"errors"
	"fraud_scorer/internal/domain"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	// MaxJitter bounds the symmetric noise added to the fallback sum.
	MaxJitter = 0.10

	DefaultAdvisoryTimeout = 800 * time.Millisecond

	noHeuristicExplanation = "Heuristic analysis completed"
	advisoryExplanation    = "Advisory model assessment"
)

var majorCities = []string{"Los Angeles", "New York", "Chicago"}

// Advisor is an optional external model. Any error means "no advice".
type Advisor interface {
	Advise(ctx context.Context, tx *domain.Transaction, flags domain.RuleFlags) (domain.Advice, error)
}

// ErrAdvisorNotConfigured lets an Advisor report that it is switched off
// without it being logged as a failure.
var ErrAdvisorNotConfigured = errors.New("advisor not configured")

// JitterSource yields values in [0,1). *rand.Rand satisfies it.
type JitterSource interface {
	Float64() float64
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NewSeededJitter returns a goroutine-safe deterministic source.
func NewSeededJitter(seed uint64) JitterSource {
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type HeuristicResult struct {
	Score        float64
	Explanation  string
	AdvisoryUsed bool
}

type HeuristicScorer struct {
	advisor Advisor
	jitter  JitterSource
	timeout time.Duration
	logger  *slog.Logger
}

func NewHeuristicScorer(advisor Advisor, jitter JitterSource, timeout time.Duration, logger *slog.Logger) *HeuristicScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if jitter == nil {
		jitter = NewSeededJitter(uint64(time.Now().UnixNano()))
	}
	if timeout <= 0 {
		timeout = DefaultAdvisoryTimeout
	}

	return &HeuristicScorer{
		advisor: advisor,
		jitter:  jitter,
		timeout: timeout,
		logger:  logger,
	}
}

// Score asks the advisor first and falls back to the local rules. Both paths
// return the same shape; a failed advisory call is only logged.
func (s *HeuristicScorer) Score(ctx context.Context, tx *domain.Transaction, flags domain.RuleFlags) HeuristicResult {
	if s.advisor != nil {
		if result, ok := s.advise(ctx, tx, flags); ok {
			return result
		}
	}
	return s.Fallback(tx)
}

func (s *HeuristicScorer) advise(ctx context.Context, tx *domain.Transaction, flags domain.RuleFlags) (HeuristicResult, bool) {
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	advice, err := s.advisor.Advise(actx, tx, flags)
	if err != nil {
		if !errors.Is(err, ErrAdvisorNotConfigured) {
			s.logger.WarnContext(ctx, "Advisory call failed, using heuristic fallback",
				slog.String("event_id", tx.EventID),
				slog.String("error", err.Error()))
		}
		return HeuristicResult{}, false
	}
	if advice.Score < 0 || advice.Score > 1 {
		s.logger.WarnContext(ctx, "Advisory score out of range, using heuristic fallback",
			slog.String("event_id", tx.EventID),
			slog.Float64("score", advice.Score))
		return HeuristicResult{}, false
	}

	explanation := advice.Explanation
	if explanation == "" {
		explanation = advisoryExplanation
	}
	return HeuristicResult{
		Score:        round2(advice.Score),
		Explanation:  explanation,
		AdvisoryUsed: true,
	}, true
}

// Fallback is the stateless local rule set plus bounded jitter.
func (s *HeuristicScorer) Fallback(tx *domain.Transaction) HeuristicResult {
	sum, reasons := heuristicSum(tx)

	u := clamp01(s.jitter.Float64())
	score := clamp01(sum + (2*u-1)*MaxJitter)

	explanation := noHeuristicExplanation
	if len(reasons) > 0 {
		explanation = strings.Join(reasons, "; ")
	}

	return HeuristicResult{
		Score:       round2(score),
		Explanation: explanation,
	}
}

func heuristicSum(tx *domain.Transaction) (float64, []string) {
	merchant := strings.ToLower(tx.MerchantName)
	amount := tx.AmountFloat()

	var (
		score   float64
		reasons []string
	)

	if strings.Contains(merchant, "gas") && amount > 200 {
		score += 0.20
		reasons = append(reasons, "Unusually high gas station transaction")
	}

	if (strings.Contains(merchant, "online") || strings.Contains(merchant, "store")) && amount > 500 {
		score += 0.15
		reasons = append(reasons, "High-value online transaction")
	}

	if !tx.TimestampDefaulted {
		if hour := tx.Timestamp.Hour(); hour < 6 || hour > 22 {
			score += 0.10
			reasons = append(reasons, "Unusual transaction time")
		}
	}

	for _, city := range majorCities {
		if tx.City == city && amount > 300 {
			score += 0.10
			reasons = append(reasons, "High-value transaction in major city")
			break
		}
	}

	return score, reasons
}
