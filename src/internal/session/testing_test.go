package session

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testPolicy = Policy{
	InactivityTimeout:    2 * time.Hour,
	MaxAge:               8 * time.Hour,
	RegenerationInterval: time.Hour,
	MaxExtension:         2 * time.Hour,
}

var (
	officeRC = RequestContext{IP: "10.0.0.5", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"}
	otherRC  = RequestContext{IP: "203.0.113.9", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"}
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:", time.Second, 24*time.Hour), mr
}

func newTestManager(t *testing.T) (*Manager, *RedisStore, *fakeClock) {
	t.Helper()
	store, _ := newTestStore(t)
	clock := newFakeClock()
	return NewManager(store, testPolicy, WithClock(clock.Now), WithMetrics(store)), store, clock
}
