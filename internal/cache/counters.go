// Package cache keeps the advisory acceptedTrucks display counter in
// Redis. It is a read optimization for dashboards only: admission
// decisions always recount active assignments from the store, so drift
// here is harmless by contract.
package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/freight-marketplace/internal/models"
)

type Counters struct {
	client *redis.Client
}

func NewCounters(addr, password string) *Counters {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Counters{client: c}
}

func metaKey(freightID string) string { return "freight:meta:" + freightID }

// SetAdvisory overwrites the cached counter and status hint for a freight.
func (c *Counters) SetAdvisory(ctx context.Context, freightID string, acceptedTrucks int, status models.FreightStatus) error {
	return c.client.HSet(ctx, metaKey(freightID), map[string]interface{}{
		"accepted_trucks": acceptedTrucks,
		"status":          string(status),
	}).Err()
}

// IncrAccepted bumps the cached counter by delta (negative to release a
// slot) and returns the new value.
func (c *Counters) IncrAccepted(ctx context.Context, freightID string, delta int) (int64, error) {
	return c.client.HIncrBy(ctx, metaKey(freightID), "accepted_trucks", int64(delta)).Result()
}

// Advisory returns the cached counter and status hint. ok is false when
// nothing is cached; callers fall back to the store.
func (c *Counters) Advisory(ctx context.Context, freightID string) (acceptedTrucks int, status models.FreightStatus, ok bool) {
	m, err := c.client.HGetAll(ctx, metaKey(freightID)).Result()
	if err != nil || len(m) == 0 {
		return 0, "", false
	}
	if v, found := m["accepted_trucks"]; found {
		if n, err := strconv.Atoi(v); err == nil {
			acceptedTrucks = n
		}
	}
	status = models.FreightStatus(m["status"])
	return acceptedTrucks, status, true
}

func (c *Counters) Close() error { return c.client.Close() }
