// revocation.go implements the server-side list of revoked session IDs. Redis
// backs it when configured so every instance sees a logout; otherwise an
// in-process map is used.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var isRevokedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "orion_session_revocation_check_duration_seconds",
	Help:    "Latency of session revocation lookups.",
	Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
})

const revokedSessionKeyPrefix = "orion:revoked:"

// RevocationList records revoked session IDs until they expire.
type RevocationList interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// MemoryRevocationList is a process-local RevocationList.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationList creates an empty in-memory list.
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks id revoked for ttl.
func (l *MemoryRevocationList) Revoke(_ context.Context, id string, ttl time.Duration) error {
	if id == "" || ttl <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.entries {
		if !exp.After(now) {
			delete(l.entries, k)
		}
	}
	l.entries[id] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether id is revoked and not yet expired.
func (l *MemoryRevocationList) IsRevoked(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.entries[id]
	if !ok {
		return false, nil
	}
	if !exp.After(l.now()) {
		delete(l.entries, id)
		return false, nil
	}
	return true, nil
}

// RedisRevocationList stores revoked IDs as expiring Redis keys.
type RedisRevocationList struct {
	client redis.UniversalClient
}

// NewRedisRevocationList wraps client. The client lifecycle is managed by the caller.
func NewRedisRevocationList(client redis.UniversalClient) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// Revoke sets a marker key that expires with the session.
func (l *RedisRevocationList) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if id == "" || ttl <= 0 {
		return nil
	}
	return l.client.Set(ctx, revokedSessionKeyPrefix+id, "1", ttl).Err()
}

// IsRevoked reports whether the marker key for id exists.
func (l *RedisRevocationList) IsRevoked(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDuration.Observe(time.Since(start).Seconds())
	}()

	if id == "" {
		return false, nil
	}
	_, err := l.client.Get(ctx, revokedSessionKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
