// Package guard enforces a single in-flight publication per account.
//
// A Guard hands out leases keyed by account. A second Acquire for a key
// that is already held fails with types.ErrPublishInProgress; it never
// queues.
package guard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/aipfs/types"
)

// Holder identifies the attempt holding a lease.
type Holder struct {
	AttemptID string `msgpack:"attempt_id"`
	Account   string `msgpack:"account"`
	Acquired  int64  `msgpack:"acquired"`
}

// Lease is a held guard. Release is idempotent.
type Lease interface {
	Holder() Holder
	Release(ctx context.Context) error
}

// Guard grants exclusive leases per key.
type Guard interface {
	// Acquire takes the lease for key or fails with ErrPublishInProgress.
	Acquire(ctx context.Context, key string, h Holder) (Lease, error)
	// Busy reports whether key is currently held.
	Busy(ctx context.Context, key string) (bool, error)
}

func inProgress(key string, current Holder) error {
	return fmt.Errorf("%w: %s held by attempt %s since %s", types.ErrPublishInProgress,
		key, current.AttemptID, time.UnixMilli(current.Acquired).UTC().Format(time.RFC3339))
}

// Local is an in-process Guard.
type Local struct {
	mu   sync.Mutex
	held map[string]*localLease
}

// NewLocal creates an empty in-process guard.
func NewLocal() *Local {
	return &Local{held: map[string]*localLease{}}
}

// Acquire implements Guard.
func (g *Local) Acquire(_ context.Context, key string, h Holder) (Lease, error) {
	key = strings.ToLower(key)
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.held[key]; ok {
		return nil, inProgress(key, cur.holder)
	}
	if h.Acquired == 0 {
		h.Acquired = time.Now().UnixMilli()
	}
	l := &localLease{g: g, key: key, holder: h}
	g.held[key] = l
	return l, nil
}

// Busy implements Guard.
func (g *Local) Busy(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[strings.ToLower(key)]
	return ok, nil
}

type localLease struct {
	g      *Local
	key    string
	holder Holder
	once   sync.Once
}

func (l *localLease) Holder() Holder { return l.holder }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.g.mu.Lock()
		defer l.g.mu.Unlock()
		if l.g.held[l.key] == l {
			delete(l.g.held, l.key)
		}
	})
	return nil
}

var _ Guard = (*Local)(nil)
