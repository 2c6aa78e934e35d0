// Package redis keeps velocity windows in Redis sorted sets so several
// scorer replicas share one view of each card's recent activity.
package redis

import (
	"context"
	"fmt"
	"fraud_scorer/internal/repository"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "velocity:"

var _ repository.VelocityStore = (*VelocityStore)(nil)

// VelocityStore stores each fingerprint's window as a sorted set scored by
// event time. Idle keys expire through Redis TTLs, so Expire is a no-op.
type VelocityStore struct {
	client  goredis.UniversalClient
	idleTTL time.Duration
}

func NewVelocityStore(client goredis.UniversalClient, idleTTL time.Duration) *VelocityStore {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &VelocityStore{client: client, idleTTL: idleTTL}
}

// Append runs evict/add/count/expire in one MULTI block, which serializes
// concurrent registrations for the same card across replicas. A sorted set
// evicts every member older than the window, not only leading ones, so an
// out-of-order stamp older than at-window is dropped rather than retained.
func (s *VelocityStore) Append(ctx context.Context, key string, at int64, window int64) (int, error) {
	k := keyPrefix + key
	member := strconv.FormatInt(at, 10) + ":" + uuid.NewString()

	var card *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(at-window, 10))
		pipe.ZAdd(ctx, k, goredis.Z{Score: float64(at), Member: member})
		card = pipe.ZCard(ctx, k)
		pipe.PExpire(ctx, k, s.idleTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis velocity append %s: %w", key, err)
	}

	return int(card.Val()), nil
}

func (s *VelocityStore) Expire(ctx context.Context, idleBefore int64) (int, error) {
	return 0, nil
}

func (s *VelocityStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func NewClient(addrs []string, password string) goredis.UniversalClient {
	return goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:          addrs,
		Password:       password,
		RouteByLatency: len(addrs) > 1,
	})
}
