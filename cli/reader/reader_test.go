package reader

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/types"
)

const (
	acct = "0x00000000000000000000000000000000000000a1"
	tx1  = "0x00000000000000000000000000000000000000000000000000000000000abc01"
	tx2  = "0x00000000000000000000000000000000000000000000000000000000000abc02"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRegistry struct {
	fee  *big.Int
	page *registry.Page
	err  error
}

func (f *fakeRegistry) Address() common.Address {
	return common.HexToAddress(registry.DefaultAddress)
}

func (f *fakeRegistry) GetPublicationFee(context.Context) (*big.Int, error) {
	return f.fee, f.err
}

func (f *fakeRegistry) ListRecords(_ context.Context, page, size int) (*registry.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.Page, p.Size = page, size
	return &p, nil
}

// journalOf writes one attempt per entry of states, each starting a minute
// after the previous one.
func journalOf(t *testing.T, attempts map[string][]types.State, txs map[string]string) *lode.Client {
	t.Helper()
	c, err := lode.NewFSClient(lode.Config{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(attempts))
	for id := range attempts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for n, id := range ids {
		meta := &types.AttemptMeta{AttemptID: id, Account: acct, ChainID: 1, Attempt: 1}
		start := base.Add(time.Duration(n) * time.Minute)
		for i, s := range attempts[id] {
			rec := lode.NewAttemptRecord(meta, s, start.Add(time.Duration(i)*time.Second))
			rec.AgentName = "Nova"
			if s == types.StatePaying {
				rec.TxID = txs[id]
				rec.RootCID = "bafyroot"
				rec.FeeWei = "10000000000000000"
			}
			if err := c.Append(t.Context(), rec); err != nil {
				t.Fatal(err)
			}
		}
	}
	return c
}

var (
	publishedRun = []types.State{types.StateBundling, types.StateAddressing, types.StatePaying, types.StateUploading, types.StateReconciling, types.StatePublished}
	failedRun    = []types.State{types.StateBundling, types.StateAddressing, types.StatePaying, types.StateUploading, types.StateFailed}
	abortedRun   = []types.State{types.StateBundling, types.StateIdle}
)

func TestInspectAttempt(t *testing.T) {
	j := journalOf(t, map[string][]types.State{"a1": failedRun}, map[string]string{"a1": tx1})
	r := New(j, nil, 1)

	resp, err := r.InspectAttempt(t.Context(), "a1")
	if err != nil {
		t.Fatalf("InspectAttempt: %v", err)
	}
	if resp.State != "failed" || resp.TxID != tx1 || resp.RootCID != "bafyroot" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Fee != "0.01 ETH" {
		t.Errorf("fee = %q", resp.Fee)
	}
	want := []string{"bundling", "addressing", "paying", "uploading", "failed"}
	if !slices.Equal(resp.Trace, want) {
		t.Errorf("trace = %v", resp.Trace)
	}
	if !resp.Resumable {
		t.Error("paid failed attempt should be resumable")
	}
	if !resp.StartedAt.Equal(base) || !resp.UpdatedAt.Equal(base.Add(4*time.Second)) {
		t.Errorf("times = %v %v", resp.StartedAt, resp.UpdatedAt)
	}
	if resp.ResumeOf != nil {
		t.Errorf("resume_of = %v", *resp.ResumeOf)
	}
}

func TestInspectAttempt_NotResumableOnceTxPublished(t *testing.T) {
	j := journalOf(t,
		map[string][]types.State{"a1": failedRun, "a2": publishedRun},
		map[string]string{"a1": tx1, "a2": tx1})
	r := New(j, nil, 1)

	resp, err := r.InspectAttempt(t.Context(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Resumable {
		t.Error("tx already published by a later attempt")
	}
}

func TestInspectAttempt_Unknown(t *testing.T) {
	r := New(journalOf(t, nil, nil), nil, 1)
	if _, err := r.InspectAttempt(t.Context(), "missing"); !errors.Is(err, lode.ErrNoAttempt) {
		t.Errorf("err = %v", err)
	}
	if _, err := r.InspectAttempt(t.Context(), ""); !errors.Is(err, types.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}

func TestStatsAttempts(t *testing.T) {
	j := journalOf(t,
		map[string][]types.State{
			"a1": publishedRun,
			"a2": failedRun,
			"a3": abortedRun,
			"a4": {types.StateBundling, types.StateAddressing},
		},
		map[string]string{"a1": tx1, "a2": tx2})
	r := New(j, nil, 1)

	stats, err := r.StatsAttempts(t.Context(), "")
	if err != nil {
		t.Fatal(err)
	}
	want := AttemptStats{Total: 4, Published: 1, Failed: 1, Aborted: 1, InFlight: 1, Resumable: 1}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}

	other, err := r.StatsAttempts(t.Context(), "0x00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatal(err)
	}
	if other.Total != 0 {
		t.Errorf("other account total = %d", other.Total)
	}
}

func TestListAttempts(t *testing.T) {
	j := journalOf(t,
		map[string][]types.State{"a1": publishedRun, "a2": failedRun, "a3": abortedRun},
		map[string]string{"a1": tx1, "a2": tx2})
	r := New(j, nil, 1)

	items, err := r.ListAttempts(t.Context(), ListAttemptsOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.AttemptID)
	}
	if !slices.Equal(ids, []string{"a3", "a2", "a1"}) {
		t.Errorf("order = %v", ids)
	}

	failed, _ := r.ListAttempts(t.Context(), ListAttemptsOptions{State: "failed"})
	if len(failed) != 1 || failed[0].TxID != tx2 {
		t.Errorf("failed = %+v", failed)
	}

	limited, _ := r.ListAttempts(t.Context(), ListAttemptsOptions{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limit: got %d", len(limited))
	}
}

func TestListRecords(t *testing.T) {
	reg := &fakeRegistry{page: &registry.Page{
		Total: 1,
		Records: []types.PublicationRecord{{
			ContentHash: "bafyroot",
			Timestamp:   base.UnixMilli(),
			Creator:     acct,
			AgentName:   "Nova",
			Identity:    "nova.eth",
			AvatarHash:  "bafyavatar",
		}},
	}}
	r := New(nil, reg, 1)

	resp, err := r.ListRecords(t.Context(), 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Page != 2 || resp.Size != 5 || resp.Total != 1 {
		t.Errorf("paging = %+v", resp)
	}
	got := resp.Records[0]
	if got.Root != "bafyroot" || got.Identity != "nova.eth" || !got.CreatedAt.Equal(base) {
		t.Errorf("record = %+v", got)
	}
}

func TestFee(t *testing.T) {
	r := New(nil, &fakeRegistry{fee: big.NewInt(1e16)}, 1)
	resp, err := r.Fee(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Ether != "0.01" || resp.Wei != "10000000000000000" || resp.ChainID != 1 {
		t.Errorf("fee = %+v", resp)
	}
}

func TestMissingSources(t *testing.T) {
	r := New(nil, nil, 1)
	if _, err := r.StatsAttempts(t.Context(), ""); !errors.Is(err, ErrNoJournal) {
		t.Errorf("stats err = %v", err)
	}
	if _, err := r.ListRecords(t.Context(), 1, 10); !errors.Is(err, ErrNoRegistry) {
		t.Errorf("list err = %v", err)
	}
	if _, err := r.Fee(t.Context()); !errors.Is(err, ErrNoRegistry) {
		t.Errorf("fee err = %v", err)
	}
}
