package publish

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pithecene-io/aipfs/adapter"
	"github.com/pithecene-io/aipfs/bundle"
	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/guard"
	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/metrics"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/storage"
	"github.com/pithecene-io/aipfs/storage/storagetest"
	"github.com/pithecene-io/aipfs/types"
	"github.com/pithecene-io/aipfs/wallet/wallettest"
)

const priceABI = `[{"inputs":[],"name":"priceEth","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	publisher    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	oneHundredth = big.NewInt(10_000_000_000_000_000) // 0.01 ETH
	twoHundredth = big.NewInt(20_000_000_000_000_000) // 0.02 ETH
	pngAvatar    = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{7}, 5*1024)...)
)

func novaProfile() types.AgentProfile {
	return types.AgentProfile{
		Name:     "Nova",
		Intro:    "desc",
		Behavior: "be helpful",
		Identity: "nova.eth",
		Avatar:   pngAvatar,
	}
}

// eventLog orders wallet, registry and storage events across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type recordingAdapter struct {
	mu     sync.Mutex
	events []*adapter.PublicationEvent
	err    error
}

func (r *recordingAdapter) Publish(_ context.Context, e *adapter.PublicationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingAdapter) Close() error { return nil }

func (r *recordingAdapter) list() []*adapter.PublicationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*adapter.PublicationEvent(nil), r.events...)
}

type owners map[string]common.Address

func (o owners) Owns(_ context.Context, name string, account common.Address) (bool, error) {
	return o[name] == account, nil
}

type harness struct {
	t         *testing.T
	wallet    *wallettest.Wallet
	storage   *storagetest.Server
	journal   *lode.Client
	collector *metrics.Collector
	notifier  *recordingAdapter
	events    *eventLog

	mu      sync.Mutex
	fee     *big.Int
	onPrice func()

	cfg  Config
	deps Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		wallet:    wallettest.New(publisher, 1),
		storage:   storagetest.NewServer(t),
		collector: metrics.NewCollector("fs"),
		notifier:  &recordingAdapter{},
		events:    &eventLog{},
		fee:       oneHundredth,
	}
	h.wallet.Hook = h.events.add
	h.storage.Hook = func() { h.events.add("upload") }

	price, err := abi.JSON(strings.NewReader(priceABI))
	if err != nil {
		t.Fatal(err)
	}
	h.wallet.Call = func(msg ethereum.CallMsg) ([]byte, error) {
		method, err := price.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		fee, hook := h.fee, h.onPrice
		h.mu.Unlock()
		if hook != nil {
			hook()
		}
		return method.Outputs.Pack(fee)
	}

	reg, err := registry.New(registry.Config{
		Address:      common.HexToAddress(registry.DefaultAddress),
		PollInterval: time.Millisecond,
	}, h.wallet, h.wallet)
	if err != nil {
		t.Fatal(err)
	}
	up, err := storage.New(storage.Config{
		APIURL:  h.storage.APIURL(),
		Backoff: time.Millisecond,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.journal, err = lode.NewFSClient(lode.Config{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h.cfg = Config{ChainID: 1}
	h.deps = Deps{
		Wallet:    h.wallet,
		Registry:  reg,
		Uploader:  up,
		Builder:   &bundle.Builder{},
		Guard:     guard.NewLocal(),
		Journal:   h.journal,
		History:   h.journal,
		Notifier:  h.notifier,
		Collector: h.collector,
	}
	return h
}

func (h *harness) setFee(fee *big.Int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fee = fee
}

func (h *harness) coordinator() *Coordinator {
	h.t.Helper()
	c, err := New(h.cfg, h.deps)
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	return c
}

func (h *harness) states(attemptID string) []string {
	h.t.Helper()
	recs, err := h.journal.History(h.t.Context(), lode.Filter{AttemptID: attemptID})
	if err != nil {
		h.t.Fatalf("History: %v", err)
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.State
	}
	return out
}

func trace(states ...types.State) []types.State { return states }

func TestPublish_Nova(t *testing.T) {
	h := newHarness(t)
	var observed []types.State
	var progress []int

	res, err := h.coordinator().Publish(t.Context(), Request{
		Profile:  novaProfile(),
		Progress: func(p int) { progress = append(progress, p) },
		OnState:  func(s types.State) { observed = append(observed, s) },
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	want := trace(types.StateIdle, types.StateBundling, types.StateAddressing, types.StatePaying,
		types.StateUploading, types.StateReconciling, types.StatePublished)
	if !slices.Equal(res.Trace, want) {
		t.Errorf("trace = %v, want %v", res.Trace, want)
	}
	if !slices.Equal(observed, want[1:]) {
		t.Errorf("observed = %v", observed)
	}
	if len(res.Bundle.Files) != 2 {
		t.Fatalf("bundle has %d entries, want 2", len(res.Bundle.Files))
	}

	addr, err := cas.AddressBundle(*res.Bundle)
	if err != nil {
		t.Fatal(err)
	}
	avatar, _ := cas.AddressFile(pngAvatar)
	tx := wallettest.TxHash(1).Hex()

	pub := res.Publication
	if pub == nil {
		t.Fatal("no publication")
	}
	if pub.Root != addr.Root.CID || pub.Avatar != avatar.CID {
		t.Errorf("published root=%s avatar=%s, want %s %s", pub.Root, pub.Avatar, addr.Root.CID, avatar.CID)
	}
	if pub.TxID != tx || pub.ChainID != 1 || pub.Fee.Cmp(oneHundredth) != 0 {
		t.Errorf("publication = %+v", pub)
	}

	sent := h.wallet.Sent()
	if len(sent) != 1 || sent[0].Value.Cmp(oneHundredth) != 0 {
		t.Fatalf("sent = %+v", sent)
	}
	uploads := h.storage.Uploads()
	if len(uploads) != 1 || uploads[0].TxID != tx || uploads[0].ChainID != "1" {
		t.Fatalf("uploads = %+v", uploads)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress = %v", progress)
	}

	wantStates := []string{"bundling", "addressing", "paying", "uploading", "reconciling", "published"}
	if got := h.states(res.Meta.AttemptID); !slices.Equal(got, wantStates) {
		t.Errorf("journal states = %v, want %v", got, wantStates)
	}

	snap := h.collector.Snapshot()
	if snap.PublishesStarted != 1 || snap.PublishesSucceeded != 1 || snap.PaymentsSent != 1 || snap.UploadAttempts != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.BytesUploaded != res.Bundle.Size() {
		t.Errorf("bytes uploaded = %d, want %d", snap.BytesUploaded, res.Bundle.Size())
	}

	events := h.notifier.list()
	if len(events) != 1 || events[0].EventType != adapter.EventAgentPublished || events[0].RootCID != string(addr.Root.CID) {
		t.Errorf("notifications = %+v", events)
	}
}

func TestPublish_NeverUploadsBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	h.wallet.PendingPolls = 3

	if _, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	events := h.events.list()
	confirmed := slices.Index(events, "confirmed")
	upload := slices.Index(events, "upload")
	if confirmed < 0 || upload < 0 || upload < confirmed {
		t.Errorf("events = %v, want upload after confirmed", events)
	}
	if slices.Index(events, "send") > confirmed {
		t.Errorf("events = %v", events)
	}
}

func TestPublish_ReconciliationMismatch(t *testing.T) {
	h := newHarness(t)
	other, _ := cas.AddressFile([]byte("different content"))
	h.storage.Configure(func(s *storagetest.Server) { s.RootOverride = string(other.CID) })

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrReconciliationMismatch) {
		t.Fatalf("err = %v, want reconciliation mismatch", err)
	}
	if res.State != types.StateFailed || res.Publication != nil {
		t.Errorf("state = %s, publication = %v", res.State, res.Publication)
	}

	var se *types.StageError
	if !errors.As(err, &se) {
		t.Fatalf("err %T is not a StageError", err)
	}
	if se.TxID != wallettest.TxHash(1).Hex() || se.Expected != res.Root || se.Got != other.CID {
		t.Errorf("stage error = %+v", se)
	}
	if !strings.Contains(types.UserMessage(err), se.TxID) {
		t.Errorf("user message %q lacks tx", types.UserMessage(err))
	}
	if ExitCode(err) != ExitCodeMismatch {
		t.Errorf("exit code = %d", ExitCode(err))
	}
	if got := res.Trace[len(res.Trace)-2:]; !slices.Equal(got, trace(types.StateReconciling, types.StateFailed)) {
		t.Errorf("trace tail = %v", got)
	}
	if h.collector.Snapshot().ReconcileMismatches != 1 {
		t.Error("mismatch not counted")
	}

	events := h.notifier.list()
	if len(events) != 1 || events[0].EventType != adapter.EventPublicationFailed || events[0].ErrorKind != "reconciliation_mismatch" {
		t.Errorf("notifications = %+v", events)
	}
}

func TestPublish_FeeMismatchNeverUploads(t *testing.T) {
	h := newHarness(t)
	h.setFee(twoHundredth)
	h.cfg.Fee = oneHundredth

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrInsufficientFee) {
		t.Fatalf("err = %v, want insufficient fee", err)
	}
	if res.State != types.StateIdle || res.TxID != "" {
		t.Errorf("state = %s tx = %q", res.State, res.TxID)
	}
	if h.storage.Requests() != 0 {
		t.Errorf("storage received %d requests", h.storage.Requests())
	}
	if len(h.wallet.Sent()) != 0 {
		t.Error("transaction sent")
	}
	if ExitCode(err) != ExitCodePayment {
		t.Errorf("exit code = %d", ExitCode(err))
	}
	if len(h.notifier.list()) != 0 {
		t.Error("pre-payment failure notified")
	}
}

func TestPublish_PrePaymentFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		profile  func(p *types.AgentProfile)
		kind     error
		exit     int
		maxState types.State
	}{
		{
			name:     "validation",
			profile:  func(p *types.AgentProfile) { p.Name = "" },
			kind:     types.ErrValidation,
			exit:     ExitCodePrePayment,
			maxState: types.StateIdle,
		},
		{
			name:     "identity not owned",
			setup:    func(h *harness) { h.deps.Owners = owners{"nova.eth": common.HexToAddress("0xb0b")} },
			kind:     types.ErrValidation,
			exit:     ExitCodePrePayment,
			maxState: types.StateIdle,
		},
		{
			name:     "wrong chain",
			setup:    func(h *harness) { h.cfg.ChainID = 8453 },
			kind:     types.ErrWrongChain,
			exit:     ExitCodePayment,
			maxState: types.StatePaying,
		},
		{
			name:     "user rejected",
			setup:    func(h *harness) { h.wallet.Reject = true },
			kind:     types.ErrUserRejected,
			exit:     ExitCodePayment,
			maxState: types.StatePaying,
		},
		{
			name: "fee unreadable",
			setup: func(h *harness) {
				h.wallet.Call = func(ethereum.CallMsg) ([]byte, error) { return nil, errors.New("connection refused") }
			},
			kind:     types.ErrInsufficientFee,
			exit:     ExitCodePayment,
			maxState: types.StatePaying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			p := novaProfile()
			if tt.profile != nil {
				tt.profile(&p)
			}

			res, err := h.coordinator().Publish(t.Context(), Request{Profile: p})
			if !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v, want %v", err, tt.kind)
			}
			if res.State != types.StateIdle {
				t.Errorf("state = %s, want idle", res.State)
			}
			if !slices.Contains(res.Trace, tt.maxState) || slices.Contains(res.Trace, types.StateUploading) {
				t.Errorf("trace = %v", res.Trace)
			}
			if ExitCode(err) != tt.exit {
				t.Errorf("exit code = %d, want %d", ExitCode(err), tt.exit)
			}
			if h.storage.Requests() != 0 {
				t.Error("storage contacted")
			}
			if h.collector.Snapshot().PublishesAborted != 1 {
				t.Error("abort not counted")
			}
		})
	}
}

func TestPublish_ValidationHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	p := novaProfile()
	p.Avatar = []byte("GIF89a not allowed")

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: p})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(res.Trace, trace(types.StateIdle)) {
		t.Errorf("trace = %v", res.Trace)
	}
	if len(h.wallet.Events()) != 0 {
		t.Errorf("wallet events = %v", h.wallet.Events())
	}
	recs, err := h.journal.History(t.Context(), lode.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("journal has %d records", len(recs))
	}
}

func TestPublish_SwitchesChain(t *testing.T) {
	h := newHarness(t)
	h.wallet.Chain = 5
	h.wallet.Switchable = map[int64]bool{1: true}

	if _, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	events := h.events.list()
	if slices.Index(events, "switch:1") > slices.Index(events, "send") {
		t.Errorf("events = %v, want switch before send", events)
	}
}

func TestPublish_GuardRefusesConcurrentAttempt(t *testing.T) {
	h := newHarness(t)
	g := guard.NewLocal()
	h.deps.Guard = g

	lease, err := g.Acquire(t.Context(), strings.ToLower(publisher.Hex()), guard.Holder{AttemptID: "other", Account: publisher.Hex()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrPublishInProgress) {
		t.Fatalf("err = %v, want publish in progress", err)
	}
	if !slices.Equal(res.Trace, trace(types.StateIdle)) {
		t.Errorf("trace = %v", res.Trace)
	}

	if err := lease.Release(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()}); err != nil {
		t.Fatalf("Publish after release: %v", err)
	}
	busy, err := g.Busy(t.Context(), strings.ToLower(publisher.Hex()))
	if err != nil || busy {
		t.Errorf("guard still held after publish: busy=%v err=%v", busy, err)
	}
}

func TestPublish_AccountChangeBeforePaymentAborts(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.onPrice = func() { h.wallet.ChangeAccount(common.HexToAddress("0xb0b")) }
	h.mu.Unlock()

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if res.State != types.StateIdle || len(h.wallet.Sent()) != 0 {
		t.Errorf("state = %s, sent = %d", res.State, len(h.wallet.Sent()))
	}
}

func TestPublish_UploadFailureCarriesTx(t *testing.T) {
	h := newHarness(t)
	h.storage.Configure(func(s *storagetest.Server) { s.RejectStatus = 400 })

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrUploadRejected) {
		t.Fatalf("err = %v, want upload rejected", err)
	}
	tx := wallettest.TxHash(1).Hex()
	if types.TxIDOf(err) != tx || res.TxID != tx {
		t.Errorf("tx = %q / %q, want %s", types.TxIDOf(err), res.TxID, tx)
	}
	if res.State != types.StateFailed {
		t.Errorf("state = %s", res.State)
	}
	if ExitCode(err) != ExitCodeUpload {
		t.Errorf("exit code = %d", ExitCode(err))
	}
	if !types.Retryable(err) {
		t.Error("upload failure should be retryable")
	}

	rec, err := h.journal.FindByTx(t.Context(), tx)
	if err != nil {
		t.Fatalf("FindByTx: %v", err)
	}
	if rec.State != string(types.StateFailed) || rec.ErrorKind != "upload_rejected" || rec.RootCID != string(res.Root) {
		t.Errorf("journaled = %+v", rec)
	}
}

func TestPublish_TransactionReverted(t *testing.T) {
	h := newHarness(t)
	failed := uint64(0)
	h.wallet.Status = &failed

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrTransactionReverted) {
		t.Fatalf("err = %v, want reverted", err)
	}
	tx := wallettest.TxHash(1).Hex()
	if res.State != types.StateFailed || res.TxID != tx || types.TxIDOf(err) != tx {
		t.Errorf("state = %s tx = %q / %q, want failed with %s", res.State, res.TxID, types.TxIDOf(err), tx)
	}
	if ExitCode(err) != ExitCodePayment {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitCodePayment)
	}
	if h.storage.Requests() != 0 {
		t.Errorf("storage received %d requests", h.storage.Requests())
	}
	if types.Retryable(err) {
		t.Error("reverted payment must not be retryable")
	}

	events := h.notifier.list()
	if len(events) != 1 || events[0].EventType != adapter.EventPublicationFailed || events[0].ErrorKind != "transaction_reverted" {
		t.Errorf("notifications = %+v", events)
	}
}

func TestPublish_LostSendResponseKeepsTx(t *testing.T) {
	h := newHarness(t)
	h.wallet.BroadcastErr = errors.New("send transaction: read tcp 10.0.0.1:8545: i/o timeout")

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	tx := wallettest.TxHash(1).Hex()
	if res.State != types.StateFailed || res.TxID != tx {
		t.Errorf("state = %s tx = %q, want failed with %s", res.State, res.TxID, tx)
	}
	if ExitCode(err) != ExitCodePayment {
		t.Errorf("exit code = %d", ExitCode(err))
	}
	if types.Retryable(err) {
		t.Error("a possibly sent payment must not be retried")
	}

	rec, err := h.journal.FindByTx(t.Context(), tx)
	if err != nil {
		t.Fatalf("FindByTx: %v", err)
	}
	if rec.State != string(types.StateFailed) {
		t.Errorf("journaled = %+v", rec)
	}
}

func TestPublish_UploadSurvivesCallerCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	h.storage.Configure(func(s *storagetest.Server) {
		s.Hook = func() { cancel() }
	})

	res, err := h.coordinator().Publish(ctx, Request{Profile: novaProfile()})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.State != types.StatePublished {
		t.Errorf("state = %s", res.State)
	}
}

func TestPublish_UploadTimeout(t *testing.T) {
	h := newHarness(t)
	h.cfg.UploadTimeout = 50 * time.Millisecond
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.storage.Configure(func(s *storagetest.Server) {
		s.Hook = func() {
			select {
			case <-release:
			case <-time.After(time.Second):
			}
		}
	})

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	if res.State != types.StateFailed || types.TxIDOf(err) == "" {
		t.Errorf("state = %s tx = %q", res.State, types.TxIDOf(err))
	}
}

func TestPublish_NotificationFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("webhook down")

	res, err := h.coordinator().Publish(t.Context(), Request{Profile: novaProfile()})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.State != types.StatePublished {
		t.Errorf("state = %s", res.State)
	}
	if h.collector.Snapshot().NotifyFailure != 1 {
		t.Error("notify failure not counted")
	}
}

func TestNew_Validates(t *testing.T) {
	h := newHarness(t)
	if _, err := New(Config{}, h.deps); err == nil {
		t.Error("expected error for missing chain id")
	}
	if _, err := New(Config{ChainID: 1}, Deps{Wallet: h.wallet}); err == nil {
		t.Error("expected error for missing registry and uploader")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodePublished},
		{"plain", errors.New("boom"), ExitCodePrePayment},
		{"validation", types.NewValidationError(errors.New("x")), ExitCodePrePayment},
		{"bundling", &types.StageError{Kind: types.ErrEncoding, Stage: types.StateBundling}, ExitCodePrePayment},
		{"paying", &types.StageError{Kind: types.ErrUserRejected, Stage: types.StatePaying}, ExitCodePayment},
		{"uploading", &types.StageError{Kind: types.ErrNetwork, Stage: types.StateUploading, TxID: "0xabc"}, ExitCodeUpload},
		{"mismatch", &types.StageError{Kind: types.ErrReconciliationMismatch, Stage: types.StateReconciling}, ExitCodeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}
