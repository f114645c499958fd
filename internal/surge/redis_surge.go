package surge

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/observability"
)

// RedisEngine keeps cell counters in Redis so every worker prices against the
// same demand/supply picture. Counters only need atomic INCR/DECR; the surge
// value is a SETEX'd cache recomputed after each mutation.
type RedisEngine struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisEngine(client *redis.Client, ttl time.Duration) *RedisEngine {
	return &RedisEngine{client: client, ttl: ttl}
}

func demandKey(cell string) string { return "geo:" + cell + ":demand" }
func supplyKey(cell string) string { return "geo:" + cell + ":supply" }
func surgeKey(cell string) string  { return "geo:" + cell + ":surge" }

func (e *RedisEngine) recompute(ctx context.Context, cell string) error {
	demand, _ := e.getInt(ctx, demandKey(cell))
	supply, _ := e.getInt(ctx, supplyKey(cell))
	v := compute(demand, supply)
	observability.SurgeMultiplier.WithLabelValues(cell).Set(v)
	return e.client.SetEx(ctx, surgeKey(cell), strconv.FormatFloat(v, 'f', -1, 64), e.ttl).Err()
}

func (e *RedisEngine) getInt(ctx context.Context, key string) (int64, error) {
	v, err := e.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (e *RedisEngine) IncrDemand(ctx context.Context, cell string) error {
	if err := e.client.Incr(ctx, demandKey(cell)).Err(); err != nil {
		return err
	}
	return e.recompute(ctx, cell)
}

func (e *RedisEngine) DecrDemand(ctx context.Context, cell string) error {
	if err := e.client.Decr(ctx, demandKey(cell)).Err(); err != nil {
		return err
	}
	return e.recompute(ctx, cell)
}

func (e *RedisEngine) IncrSupply(ctx context.Context, cell string) error {
	if err := e.client.Incr(ctx, supplyKey(cell)).Err(); err != nil {
		return err
	}
	return e.recompute(ctx, cell)
}

func (e *RedisEngine) DecrSupply(ctx context.Context, cell string) error {
	if err := e.client.Decr(ctx, supplyKey(cell)).Err(); err != nil {
		return err
	}
	return e.recompute(ctx, cell)
}

func (e *RedisEngine) Multiplier(ctx context.Context, cell string) float64 {
	v, err := e.client.Get(ctx, surgeKey(cell)).Float64()
	if err != nil {
		return Min
	}
	return clamp(v)
}
