package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/aipfs/archive"
	"github.com/pithecene-io/aipfs/iox"
	"github.com/pithecene-io/aipfs/types"
)

// ErrNoAttempt is returned when no journaled attempt matches a lookup.
var ErrNoAttempt = errors.New("no journaled attempt found")

// Config holds journal configuration.
type Config struct {
	// Dataset is the Lode dataset ID (default aipfs).
	Dataset string
}

// Journal records attempt transitions and bundles.
type Journal interface {
	// Append writes one transition record.
	Append(ctx context.Context, rec *AttemptRecord) error
	// SaveBundle stores the bundle of the attempt rec belongs to.
	SaveBundle(ctx context.Context, rec *AttemptRecord, b types.Bundle) error
	// Close releases journal resources.
	Close() error
}

// Client is the Lode-backed Journal.
type Client struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	// mu serializes appends so snapshots keep transition order.
	mu sync.Mutex
}

// NewFSClient creates a journal under root on the local filesystem.
func NewFSClient(cfg Config, root string) (*Client, error) {
	return NewClient(cfg, lode.NewFSFactory(root))
}

// NewClient creates a journal on a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewClient(cfg Config, factory lode.StoreFactory) (*Client, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, wrap("init", cfg.Dataset, err)
	}
	return &Client{dataset: ds, config: cfg, storeFactory: factory}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Append implements Journal.
func (c *Client) Append(ctx context.Context, rec *AttemptRecord) error {
	rec.RecordKind = RecordKindTransition
	rec.JournalVersion = types.JournalVersion
	if rec.Ts == "" {
		now := time.Now()
		rec.Ts = now.UTC().Format(time.RFC3339Nano)
		rec.Day = DeriveDay(now)
	}
	if err := rec.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.dataset.Write(ctx, []any{rec.toMap()}, lode.Metadata{}); err != nil {
		return wrap("append", c.partitionPath(rec), err)
	}
	return nil
}

// SaveBundle implements Journal.
func (c *Client) SaveBundle(ctx context.Context, rec *AttemptRecord, b types.Bundle) error {
	data, err := archive.Encode(b)
	if err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return wrap("init", c.config.Dataset, err)
	}
	path := c.bundlePath(rec)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return wrap("bundle", path, err)
	}
	return nil
}

// LoadBundle reads the bundle stored for the attempt of rec.
func (c *Client) LoadBundle(ctx context.Context, rec *AttemptRecord) (types.Bundle, error) {
	store, err := c.getOrCreateStore()
	if err != nil {
		return types.Bundle{}, wrap("init", c.config.Dataset, err)
	}
	path := c.bundlePath(rec)
	rc, err := store.Get(ctx, path)
	if err != nil {
		return types.Bundle{}, wrap("bundle", path, err)
	}
	defer iox.DiscardClose(rc)
	b, err := archive.Read(rc)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("journal bundle %s: %w", path, err)
	}
	return b, nil
}

// Filter narrows History. Empty fields match everything.
type Filter struct {
	Account   string
	AttemptID string
	TxID      string
}

func (f Filter) match(r *AttemptRecord) bool {
	return (f.Account == "" || strings.EqualFold(f.Account, r.Account)) &&
		(f.AttemptID == "" || f.AttemptID == r.AttemptID) &&
		(f.TxID == "" || strings.EqualFold(f.TxID, r.TxID))
}

// History returns matching records in the order they were written.
func (c *Client) History(ctx context.Context, f Filter) ([]AttemptRecord, error) {
	snapshots, err := c.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("scan", c.config.Dataset, err)
	}

	var out []AttemptRecord
	seen := map[string]bool{}
	for _, snap := range snapshots {
		if f.Account != "" && !snapshotMatches(snap, "account", strings.ToLower(f.Account)) {
			continue
		}
		items, err := c.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("scan", fmt.Sprintf("%s/snapshot/%s", c.config.Dataset, snap.ID), err)
		}
		for _, item := range items {
			rec, ok := fromItem(item)
			if !ok || !f.match(&rec) || seen[rec.key()] {
				continue
			}
			seen[rec.key()] = true
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b AttemptRecord) int {
		return a.Time().Compare(b.Time())
	})
	return out, nil
}

// Latest returns the newest record of every matching attempt, newest
// attempt first.
func (c *Client) Latest(ctx context.Context, f Filter) ([]AttemptRecord, error) {
	history, err := c.History(ctx, Filter{Account: f.Account, AttemptID: f.AttemptID})
	if err != nil {
		return nil, err
	}
	latest := map[string]int{}
	var order []string
	var txMatch map[string]bool
	if f.TxID != "" {
		txMatch = map[string]bool{}
	}
	for i, rec := range history {
		if _, ok := latest[rec.AttemptID]; !ok {
			order = append(order, rec.AttemptID)
		}
		latest[rec.AttemptID] = i
		if txMatch != nil && strings.EqualFold(rec.TxID, f.TxID) {
			txMatch[rec.AttemptID] = true
		}
	}
	out := make([]AttemptRecord, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if txMatch != nil && !txMatch[id] {
			continue
		}
		out = append(out, carryForward(history, id, history[latest[id]]))
	}
	return out, nil
}

// carryForward fills fields of last that only earlier records of the
// attempt carry.
func carryForward(history []AttemptRecord, attemptID string, last AttemptRecord) AttemptRecord {
	for _, rec := range history {
		if rec.AttemptID != attemptID {
			continue
		}
		fill := func(dst *string, src string) {
			if *dst == "" {
				*dst = src
			}
		}
		fill(&last.TxID, rec.TxID)
		fill(&last.RootCID, rec.RootCID)
		fill(&last.AvatarCID, rec.AvatarCID)
		fill(&last.AgentName, rec.AgentName)
		fill(&last.BundleName, rec.BundleName)
		fill(&last.FeeWei, rec.FeeWei)
	}
	return last
}

// FindByTx returns the latest state of the attempt that paid with txID.
func (c *Client) FindByTx(ctx context.Context, txID string) (*AttemptRecord, error) {
	recs, err := c.Latest(ctx, Filter{TxID: txID})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: tx %s", ErrNoAttempt, txID)
	}
	return &recs[0], nil
}

// Close implements Journal.
func (c *Client) Close() error {
	return nil
}

func (c *Client) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

func (c *Client) partitionPath(rec *AttemptRecord) string {
	return fmt.Sprintf("datasets/%s/partitions/account=%s/day=%s", c.config.Dataset, rec.Account, rec.Day)
}

// bundlePath is keyed by attempt so every record of the attempt finds it.
func (c *Client) bundlePath(rec *AttemptRecord) string {
	return fmt.Sprintf("datasets/%s/files/account=%s/attempt_id=%s/bundle.msgpack",
		c.config.Dataset, rec.Account, rec.AttemptID)
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. Segments are matched exactly.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		if slices.Contains(strings.Split(f.Path, "/"), segment) {
			return true
		}
	}
	return false
}

var _ Journal = (*Client)(nil)
