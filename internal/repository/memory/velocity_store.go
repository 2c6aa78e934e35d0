package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	velocityShards = 256

	// maxWindowEntries bounds a single key's window. Past this point the key
	// is bursting by any definition, so the oldest stamps are dropped.
	maxWindowEntries = 1000
)

// VelocityStore is a sharded in-process window table. Keys hashing to
// different shards never contend; keys in the same shard share one mutex.
type VelocityStore struct {
	shards [velocityShards]velocityShard
	now    func() time.Time
}

type velocityShard struct {
	mu      sync.Mutex
	windows map[string]*velocityWindow
}

type velocityWindow struct {
	stamps  []int64
	touched int64
}

func NewVelocityStore() *VelocityStore {
	s := &VelocityStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*velocityWindow)
	}
	return s
}

func (s *VelocityStore) Append(ctx context.Context, key string, at int64, window int64) (int, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, exists := sh.windows[key]
	if !exists {
		w = &velocityWindow{}
		sh.windows[key] = w
	}

	// Only leading entries are evicted, relative to the newly inserted
	// stamp. An out-of-order arrival can leave a non-monotonic tail that is
	// still inside the window.
	drop := 0
	for drop < len(w.stamps) && at-w.stamps[drop] > window {
		drop++
	}
	if over := len(w.stamps) - drop + 1 - maxWindowEntries; over > 0 {
		drop += over
	}
	if drop > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[drop:]...)
	}

	w.stamps = append(w.stamps, at)
	w.touched = s.now().UnixMilli()

	return len(w.stamps), nil
}

func (s *VelocityStore) Expire(ctx context.Context, idleBefore int64) (int, error) {
	removed := 0
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		sh := &s.shards[i]
		sh.mu.Lock()
		for key, w := range sh.windows {
			if w.touched < idleBefore {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked fingerprints.
func (s *VelocityStore) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.windows)
		sh.mu.Unlock()
	}
	return total
}

func (s *VelocityStore) shard(key string) *velocityShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%velocityShards]
}
