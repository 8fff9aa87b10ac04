package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestStoresSlideTheWindow(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client)
		},
	}
	rate := MustParseRate("5/minute")
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	type hit struct {
		key      string
		at       time.Duration
		allowed  bool
		wantWait time.Duration
	}
	hits := []hit{
		{"user:1", 0, true, 0},
		{"user:1", time.Second, true, 0},
		{"user:1", 2 * time.Second, true, 0},
		{"user:1", 3 * time.Second, true, 0},
		{"user:1", 4 * time.Second, true, 0},
		{"user:1", 10 * time.Second, false, 50 * time.Second},
		{"user:2", 10 * time.Second, true, 0},
		// a rejected hit is not recorded, so the wait keeps shrinking
		{"user:1", 30 * time.Second, false, 30 * time.Second},
		// the first hit has left the window
		{"user:1", time.Minute, true, 0},
		{"user:1", time.Minute, false, time.Second},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			for i, h := range hits {
				ok, wait, err := store.Hit(context.Background(), h.key, rate, t0.Add(h.at))
				if err != nil {
					t.Fatalf("hit %d: error = %v", i, err)
				}
				if ok != h.allowed {
					t.Errorf("hit %d (%s at %v): allowed = %v, want %v", i, h.key, h.at, ok, h.allowed)
				}
				if wait != h.wantWait {
					t.Errorf("hit %d (%s at %v): wait = %v, want %v", i, h.key, h.at, wait, h.wantWait)
				}
			}
		})
	}
}

func TestRedisStoreSharesHistoryAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	a := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	b := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	rate := MustParseRate("1/hour")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if ok, _, err := a.Hit(context.Background(), "anon:10.0.0.1", rate, now); err != nil || !ok {
		t.Fatalf("first hit: allowed = %v, err = %v", ok, err)
	}
	ok, wait, err := b.Hit(context.Background(), "anon:10.0.0.1", rate, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if ok || wait != 59*time.Minute {
		t.Errorf("second replica: allowed = %v, wait = %v", ok, wait)
	}
	if !mr.Exists("throttle:anon:10.0.0.1") {
		t.Error("expected history under the throttle: prefix")
	}
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()
	if _, _, err := store.Hit(context.Background(), "k", MustParseRate("1/second"), time.Now()); err == nil {
		t.Error("expected an error once redis is gone")
	}
}
