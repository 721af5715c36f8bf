package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters shares failure counters between runtime processes.
type RedisCounters struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures RedisCounters.
type RedisOptions struct {
	// Prefix namespaces keys; defaults to "lexmesh:failures".
	Prefix string
	// TTL expires idle counters; zero keeps them until reset.
	TTL time.Duration
}

// NewRedisCounters wraps an existing client.
func NewRedisCounters(rdb *redis.Client, optFns ...func(o *RedisOptions)) *RedisCounters {
	opts := RedisOptions{Prefix: "lexmesh:failures"}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &RedisCounters{rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL}
}

func (r *RedisCounters) key(tenantID, agentID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, tenantID, agentID)
}

// Incr implements CounterStore. INCR and EXPIRE share one MULTI/EXEC round
// trip.
func (r *RedisCounters) Incr(ctx context.Context, tenantID, agentID string) (int, error) {
	key := r.key(tenantID, agentID)

	var incr *redis.IntCmd

	if _, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}

		return nil
	}); err != nil {
		return 0, fmt.Errorf("incr failure counter: %w", err)
	}

	return int(incr.Val()), nil
}

// Reset implements CounterStore.
func (r *RedisCounters) Reset(ctx context.Context, tenantID, agentID string) error {
	if err := r.rdb.Del(ctx, r.key(tenantID, agentID)).Err(); err != nil {
		return fmt.Errorf("reset failure counter: %w", err)
	}

	return nil
}

// Get implements CounterStore.
func (r *RedisCounters) Get(ctx context.Context, tenantID, agentID string) (int, error) {
	n, err := r.rdb.Get(ctx, r.key(tenantID, agentID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("get failure counter: %w", err)
	}

	return n, nil
}
