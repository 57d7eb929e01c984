package guard

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/aipfs/types"
)

const account = "0x00000000000000000000000000000000000000A1"

func guards(t *testing.T) map[string]Guard {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return map[string]Guard{"local": NewLocal(), "redis": r}
}

func TestGuard_Exclusive(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			lease, err := g.Acquire(ctx, account, Holder{AttemptID: "a1", Account: account})
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			if busy, _ := g.Busy(ctx, account); !busy {
				t.Error("expected busy while held")
			}

			_, err = g.Acquire(ctx, account, Holder{AttemptID: "a2"})
			if !errors.Is(err, types.ErrPublishInProgress) {
				t.Fatalf("second Acquire err = %v, want ErrPublishInProgress", err)
			}

			other, err := g.Acquire(ctx, "0xb2", Holder{AttemptID: "b1"})
			if err != nil {
				t.Fatalf("other account Acquire: %v", err)
			}
			_ = other.Release(ctx)

			if err := lease.Release(ctx); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if err := lease.Release(ctx); err != nil {
				t.Fatalf("second Release: %v", err)
			}
			if busy, _ := g.Busy(ctx, account); busy {
				t.Error("expected free after release")
			}
			again, err := g.Acquire(ctx, account, Holder{AttemptID: "a3"})
			if err != nil {
				t.Fatalf("reacquire: %v", err)
			}
			if again.Holder().Acquired == 0 {
				t.Error("acquired timestamp not set")
			}
		})
	}
}

func TestGuard_Concurrent(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 16 {
				wg.Go(func() {
					if _, err := g.Acquire(t.Context(), account, Holder{AttemptID: "x"}); err == nil {
						wins.Add(1)
					}
				})
			}
			wg.Wait()
			if wins.Load() != 1 {
				t.Errorf("wins = %d, want 1", wins.Load())
			}
		})
	}
}

func TestRedis_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	g, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr(), TTL: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.Close() }()
	ctx := t.Context()

	old, err := g.Acquire(ctx, account, Holder{AttemptID: "old"})
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := g.Acquire(ctx, account, Holder{AttemptID: "new"}); err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if err := old.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if busy, _ := g.Busy(ctx, account); !busy {
		t.Error("stale release removed the new holder")
	}
}

func TestRedis_HeldLeaseOutlivesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	const ttl = 30 * time.Millisecond
	g, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr(), TTL: ttl})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.Close() }()
	ctx := t.Context()
	key := g.key(account)

	lease, err := g.Acquire(ctx, account, Holder{AttemptID: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		mr.FastForward(20 * time.Millisecond)
		waitForTTL(t, mr, key, ttl)
	}

	if busy, _ := g.Busy(ctx, account); !busy {
		t.Fatal("lease expired while held")
	}
	if _, err := g.Acquire(ctx, account, Holder{AttemptID: "a2"}); !errors.Is(err, types.ErrPublishInProgress) {
		t.Fatalf("second Acquire err = %v, want ErrPublishInProgress", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists(key) {
		t.Error("key left after release")
	}
}

// waitForTTL waits until key has been renewed to ttl.
func waitForTTL(t *testing.T, mr *miniredis.Miniredis, key string, ttl time.Duration) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(key) != ttl {
		if !mr.Exists(key) {
			t.Fatal("lease expired while held")
		}
		if time.Now().After(deadline) {
			t.Fatalf("ttl = %s, want renewal to %s", mr.TTL(key), ttl)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRedis_InProgressNamesHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	g, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.Close() }()

	if _, err := g.Acquire(t.Context(), account, Holder{AttemptID: "first"}); err != nil {
		t.Fatal(err)
	}
	_, err = g.Acquire(t.Context(), account, Holder{AttemptID: "second"})
	if err == nil || !strings.Contains(err.Error(), "first") {
		t.Errorf("err = %v, want mention of holder", err)
	}
}

func TestNewRedis_RequiresURL(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Error("expected error")
	}
}
