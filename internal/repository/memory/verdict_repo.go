package memory

import (
	"context"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/repository"
	"fmt"
	"sort"
	"sync"
)

type VerdictRepository struct {
	mu       sync.RWMutex
	verdicts map[string]*domain.Verdict
	order    []string
}

func NewVerdictRepository() *VerdictRepository {
	return &VerdictRepository{
		verdicts: make(map[string]*domain.Verdict),
	}
}

func (r *VerdictRepository) Save(ctx context.Context, verdict *domain.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.verdicts[verdict.EventID]; exists {
		return fmt.Errorf("%w: verdict %s", repository.ErrDuplicate, verdict.EventID)
	}

	stored := *verdict
	r.verdicts[verdict.EventID] = &stored
	r.order = append(r.order, verdict.EventID)

	return nil
}

func (r *VerdictRepository) GetByEventID(ctx context.Context, eventID string) (*domain.Verdict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.verdicts[eventID]
	if !exists {
		return nil, fmt.Errorf("%w: verdict %s", repository.ErrNotFound, eventID)
	}
	out := *v
	return &out, nil
}

func (r *VerdictRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Verdict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Verdict, 0, len(r.order))
	for _, id := range r.order {
		v := *r.verdicts[id]
		result = append(result, &v)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ScoredAt.After(result[j].ScoredAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *VerdictRepository) CountByLabel(ctx context.Context) (map[domain.RiskLabel]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.RiskLabel]int)
	for _, v := range r.verdicts {
		counts[v.Label]++
	}
	return counts, nil
}
