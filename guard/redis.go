package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultPrefix namespaces guard keys.
const DefaultPrefix = "aipfs:publish:"

// DefaultTTL bounds how long a crashed holder can block an account. Live
// holders renew their lease.
const DefaultTTL = 15 * time.Minute

// RedisConfig configures a Redis-backed guard.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	URL string
	// Prefix is prepended to every key (default aipfs:publish:).
	Prefix string
	// TTL expires abandoned leases (default 15m). Held leases are renewed
	// every TTL/3.
	TTL time.Duration
}

// Redis is a Guard shared between processes through SET NX.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// releaseScript deletes the key only if it still holds our value.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key only if it still holds our value.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedis creates a Redis guard.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis guard requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis guard: invalid URL: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

func (g *Redis) key(k string) string {
	return g.config.Prefix + strings.ToLower(k)
}

// Acquire implements Guard.
func (g *Redis) Acquire(ctx context.Context, key string, h Holder) (Lease, error) {
	if h.Acquired == 0 {
		h.Acquired = time.Now().UnixMilli()
	}
	val, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("redis guard: encode holder: %w", err)
	}
	ok, err := g.client.SetNX(ctx, g.key(key), val, g.config.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis guard: acquire: %w", err)
	}
	if !ok {
		return nil, inProgress(key, g.current(ctx, key))
	}
	l := &redisLease{g: g, key: key, holder: h, val: val, stop: make(chan struct{}), done: make(chan struct{})}
	go l.renew()
	return l, nil
}

// current best-effort reads the holder of key.
func (g *Redis) current(ctx context.Context, key string) Holder {
	var h Holder
	raw, err := g.client.Get(ctx, g.key(key)).Bytes()
	if err != nil {
		return h
	}
	_ = msgpack.Unmarshal(raw, &h)
	return h
}

// Busy implements Guard.
func (g *Redis) Busy(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis guard: exists: %w", err)
	}
	return n > 0, nil
}

// Close releases the client.
func (g *Redis) Close() error {
	return g.client.Close()
}

type redisLease struct {
	g      *Redis
	key    string
	holder Holder
	val    []byte

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	released bool
}

func (l *redisLease) Holder() Holder { return l.holder }

// renew extends the TTL every third of it until Release, or until the key
// no longer holds this lease.
func (l *redisLease) renew() {
	defer close(l.done)
	ttl := l.g.config.TTL
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), ttl)
		n, err := renewScript.Run(ctx, l.g.client, []string{l.g.key(l.key)}, l.val, ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

func (l *redisLease) stopRenewal() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *redisLease) Release(ctx context.Context) error {
	l.stopRenewal()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	if err := releaseScript.Run(ctx, l.g.client, []string{l.g.key(l.key)}, l.val).Err(); err != nil {
		return fmt.Errorf("redis guard: release: %w", err)
	}
	l.released = true
	return nil
}

var _ Guard = (*Redis)(nil)
