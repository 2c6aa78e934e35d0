package memory

import (
	"context"
	"errors"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/repository"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestVelocityStore_EvictsLeadingEntries(t *testing.T) {
	store := NewVelocityStore()
	ctx := context.Background()

	for i, at := range []int64{1000, 1500, 2500} {
		n, err := store.Append(ctx, "3565", at, 2000)
		if err != nil {
			t.Fatalf("unexpected error on Append: %v", err)
		}
		if n != i+1 {
			t.Errorf("expected %d entries after append %d, got %d", i+1, i, n)
		}
	}

	n, _ := store.Append(ctx, "3565", 7500, 2000)
	if n != 1 {
		t.Errorf("expected window to hold only the new stamp, got %d", n)
	}
}

func TestVelocityStore_BoundaryIsInclusive(t *testing.T) {
	store := NewVelocityStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, "k", 0, 2000)
	n, _ := store.Append(ctx, "k", 2000, 2000)
	if n != 2 {
		t.Errorf("stamp exactly one window old must be retained, got %d entries", n)
	}
	n, _ = store.Append(ctx, "k", 2001, 2000)
	if n != 2 {
		t.Errorf("expected stamp at 0 evicted once it is older than the window, got %d entries", n)
	}
}

func TestVelocityStore_OutOfOrderKeepsTail(t *testing.T) {
	store := NewVelocityStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, "k", 5000, 2000)
	n, _ := store.Append(ctx, "k", 4000, 2000)
	if n != 2 {
		t.Errorf("late stamp inside the window should be kept, got %d entries", n)
	}
	// Head is 5000, which is not older than 1000-2000, so nothing is evicted
	// even though 1000 is far behind the rest of the window.
	n, _ = store.Append(ctx, "k", 1000, 2000)
	if n != 3 {
		t.Errorf("expected non-monotonic tail to be retained, got %d entries", n)
	}
}

func TestVelocityStore_KeysAreIndependent(t *testing.T) {
	store := NewVelocityStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, "a", 100, 2000)
	_, _ = store.Append(ctx, "a", 200, 2000)
	n, _ := store.Append(ctx, "b", 300, 2000)
	if n != 1 {
		t.Errorf("expected fresh key to start at 1, got %d", n)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 tracked keys, got %d", store.Len())
	}
}

func TestVelocityStore_ConcurrentAppendsSameKey(t *testing.T) {
	store := NewVelocityStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, _ = store.Append(ctx, "shared", int64(10_000+i), 2000)
		}(i)
	}
	wg.Wait()

	n, _ := store.Append(ctx, "shared", 10_100, 2000)
	if n != workers+1 {
		t.Errorf("expected no lost updates (%d entries), got %d", workers+1, n)
	}
}

func TestVelocityStore_ExpireIdleKeys(t *testing.T) {
	store := NewVelocityStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	_, _ = store.Append(ctx, "old", 1, 2000)
	store.now = func() time.Time { return base.Add(20 * time.Minute) }
	_, _ = store.Append(ctx, "fresh", 2, 2000)

	removed, err := store.Expire(ctx, base.Add(10*time.Minute).UnixMilli())
	if err != nil {
		t.Fatalf("unexpected error on Expire: %v", err)
	}
	if removed != 1 || store.Len() != 1 {
		t.Errorf("expected only the idle key removed, removed=%d remaining=%d", removed, store.Len())
	}
}

func TestVerdictRepository_SaveAndGetByEventID(t *testing.T) {
	repo := NewVerdictRepository()
	verdict := &domain.Verdict{
		EventID:    "evt_1",
		FinalScore: 0.61,
		Label:      domain.LabelLikelyFraud,
		ScoredAt:   time.Now(),
	}

	if err := repo.Save(context.Background(), verdict); err != nil {
		t.Fatalf("unexpected error on Save: %v", err)
	}
	got, err := repo.GetByEventID(context.Background(), "evt_1")

	if err != nil {
		t.Fatalf("unexpected error on GetByEventID: %v", err)
	}
	if got.Label != domain.LabelLikelyFraud || got.FinalScore != 0.61 {
		t.Errorf("expected verdict %+v, got %+v", verdict, got)
	}
}

func TestVerdictRepository_DuplicateAndMissing(t *testing.T) {
	repo := NewVerdictRepository()
	_ = repo.Save(context.Background(), &domain.Verdict{EventID: "evt_1"})

	if err := repo.Save(context.Background(), &domain.Verdict{EventID: "evt_1"}); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := repo.GetByEventID(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVerdictRepository_ListRecentAndCount(t *testing.T) {
	repo := NewVerdictRepository()
	now := time.Now()
	labels := []domain.RiskLabel{domain.LabelOK, domain.LabelReview, domain.LabelOK}
	for i, label := range labels {
		_ = repo.Save(context.Background(), &domain.Verdict{
			EventID:  fmt.Sprintf("evt_%d", i),
			Label:    label,
			ScoredAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	recent, err := repo.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error on ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].EventID != "evt_2" {
		t.Errorf("expected newest first, got %+v", recent)
	}

	counts, _ := repo.CountByLabel(context.Background())
	if counts[domain.LabelOK] != 2 || counts[domain.LabelReview] != 1 {
		t.Errorf("unexpected label counts: %v", counts)
	}
}
