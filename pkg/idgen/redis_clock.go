package idgen

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the ID generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// RedisClock aligns nodes that share a Redis server on the server's TIME.
// The offset to the local clock is sampled at most once per refresh
// interval; between samples, and whenever Redis cannot be reached, the
// last known offset is applied to local time.
type RedisClock struct {
	client  redis.UniversalClient
	refresh time.Duration
	timeout time.Duration

	mu         sync.Mutex
	offset     int64
	sampledAt  time.Time
	lastReturn int64
}

func NewRedisClock(client redis.UniversalClient) *RedisClock {
	return &RedisClock{
		client:  client,
		refresh: 5 * time.Second,
		timeout: 200 * time.Millisecond,
	}
}

func (r *RedisClock) Now() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	local := time.Now()
	if r.sampledAt.IsZero() || local.Sub(r.sampledAt) >= r.refresh {
		r.sample(local)
	}

	now := local.UnixMilli() + r.offset
	// A new sample may pull the offset back; never go below what we
	// already handed out.
	if now < r.lastReturn {
		now = r.lastReturn
	}
	r.lastReturn = now
	return now
}

func (r *RedisClock) sample(local time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.client.Time(ctx).Result()
	r.sampledAt = local
	if err != nil {
		return
	}
	r.offset = res.UnixMilli() - local.UnixMilli()
}
