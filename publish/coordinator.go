// Package publish walks a publication attempt through the pipeline.
//
// A Coordinator owns one state machine per attempt:
//
//	idle -> bundling -> addressing -> paying -> uploading -> reconciling -> published
//
// Failures before paying return the attempt to idle with nothing spent.
// Failures at or after paying end in failed and carry the transaction id
// so the upload can be resumed without paying again (see Resume).
//
// Every transition is appended to the journal when one is configured. The
// outcome of a paid attempt is sent to the notifier.
package publish

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pithecene-io/aipfs/adapter"
	"github.com/pithecene-io/aipfs/bundle"
	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/guard"
	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/log"
	"github.com/pithecene-io/aipfs/metrics"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/secret"
	"github.com/pithecene-io/aipfs/storage"
	"github.com/pithecene-io/aipfs/types"
	"github.com/pithecene-io/aipfs/wallet"
)

// Defaults.
const (
	DefaultUploadTimeout = 5 * time.Minute
	DefaultNotifyTimeout = 10 * time.Second
)

// Registry is the registry surface the coordinator pays through.
// *registry.Client satisfies it.
type Registry interface {
	GetPublicationFee(ctx context.Context) (*big.Int, error)
	SubmitRecord(ctx context.Context, rec types.PublicationRecord, feePaid *big.Int) (*registry.Submission, error)
	PaidReceipt(ctx context.Context, txID string) (*registry.Submission, error)
}

// Uploader sends a paid bundle to the storage network.
// *storage.Uploader satisfies it.
type Uploader interface {
	UploadBundle(ctx context.Context, b types.Bundle, txID string, chainID int64, progress storage.Progress) (*storage.Result, error)
}

// OwnershipChecker verifies that an account controls an identity name.
// *ens.Client satisfies it.
type OwnershipChecker interface {
	Owns(ctx context.Context, name string, account common.Address) (bool, error)
}

// Config configures a Coordinator.
type Config struct {
	// ChainID is the registry chain. Required.
	ChainID int64
	// Fee, when set, is the amount paid instead of the fee read from the
	// registry. The registry still rejects a payment that differs from its
	// current fee.
	Fee *big.Int
	// UploadTimeout bounds the upload stage (default 5m).
	UploadTimeout time.Duration
	// NotifyTimeout bounds one notification (default 10s).
	NotifyTimeout time.Duration
	// Credential is embedded in the published page for the chat runtime.
	Credential secret.Credential
	// Now overrides the clock (for testing).
	Now func() time.Time
	// NewAttemptID overrides attempt id generation (for testing).
	NewAttemptID func() string
}

// Deps are the collaborators of a Coordinator. Wallet, Registry and
// Uploader are required; the rest are optional.
type Deps struct {
	Wallet   wallet.Wallet
	Registry Registry
	Uploader Uploader
	// Builder renders bundles. Nil uses a zero Builder (default endpoints).
	Builder *bundle.Builder
	// Owners checks identity ownership. Nil skips the check.
	Owners OwnershipChecker
	// Guard serializes paid attempts per account. Nil uses an in-process guard.
	Guard guard.Guard
	// Journal records transitions and bundles.
	Journal lode.Journal
	// History finds journaled attempts for Resume.
	History History
	// Notifier receives outcomes of paid attempts.
	Notifier adapter.Adapter
	// Collector counts outcomes. Nil-safe.
	Collector *metrics.Collector
	// Logger defaults to log.Nop().
	Logger *log.Logger
}

// Coordinator runs publication attempts. Safe for concurrent use; attempts
// for the same account are serialized by the guard.
type Coordinator struct {
	cfg Config

	wallet    wallet.Wallet
	registry  Registry
	uploader  Uploader
	builder   *bundle.Builder
	owners    OwnershipChecker
	guard     guard.Guard
	journal   lode.Journal
	history   History
	notifier  adapter.Adapter
	collector *metrics.Collector
	logger    *log.Logger
}

// New validates cfg and deps and returns a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if cfg.ChainID <= 0 {
		return nil, errors.New("chain id is required")
	}
	if deps.Wallet == nil || deps.Registry == nil || deps.Uploader == nil {
		return nil, errors.New("wallet, registry and uploader are required")
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewAttemptID == nil {
		cfg.NewAttemptID = uuid.NewString
	}

	c := &Coordinator{
		cfg:       cfg,
		wallet:    deps.Wallet,
		registry:  deps.Registry,
		uploader:  deps.Uploader,
		builder:   deps.Builder,
		owners:    deps.Owners,
		guard:     deps.Guard,
		journal:   deps.Journal,
		history:   deps.History,
		notifier:  deps.Notifier,
		collector: deps.Collector,
		logger:    deps.Logger,
	}
	if c.builder == nil {
		c.builder = &bundle.Builder{Now: cfg.Now}
	}
	if c.guard == nil {
		c.guard = guard.NewLocal()
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	return c, nil
}

func (c *Coordinator) now() time.Time { return c.cfg.Now() }

// Request is one publish request.
type Request struct {
	Profile types.AgentProfile
	// Progress receives upload percentages.
	Progress storage.Progress
	// OnState observes every state entered after the initial one.
	OnState func(types.State)
}

// Result describes a finished attempt.
type Result struct {
	Meta *types.AttemptMeta
	// State is published, failed, or idle for attempts that ended before
	// payment.
	State types.State
	// Trace lists every state visited, starting with the initial one.
	Trace []types.State
	// Publication is set when State is published.
	Publication *types.Publication
	// TxID is the confirmed registry transaction, if payment happened.
	TxID string
	// Root is the locally computed bundle identifier, once addressed.
	Root types.ContentIdentifier
	// Avatar is the locally computed avatar identifier, once addressed.
	Avatar types.ContentIdentifier
	// Bundle is the built bundle, once bundling succeeded.
	Bundle *types.Bundle
	// Duration is the wall time of the attempt.
	Duration time.Duration
	// Err is the failure, nil when published.
	Err error
}

// Publish runs one attempt for req.Profile. The result is always non-nil;
// the returned error equals Result.Err.
func (c *Coordinator) Publish(ctx context.Context, req Request) (*Result, error) {
	account, err := c.wallet.Account(ctx)
	if err != nil {
		err = &types.StageError{
			Kind:  types.ErrNetwork,
			Stage: types.StateIdle,
			Err:   fmt.Errorf("read wallet account: %w", err),
		}
		return &Result{State: types.StateIdle, Trace: []types.State{types.StateIdle}, Err: err}, err
	}

	meta := &types.AttemptMeta{
		AttemptID: c.cfg.NewAttemptID(),
		Account:   account.Hex(),
		ChainID:   c.cfg.ChainID,
		Attempt:   1,
	}
	a := c.newAttempt(meta, types.StateIdle, req.OnState)
	c.collector.IncPublishStarted()
	a.logger.Info("publish started", map[string]any{"agent": req.Profile.Name})

	var switched atomic.Pointer[common.Address]
	unsubscribe := c.wallet.OnAccountChange(func(addr common.Address) {
		if addr != account {
			switched.Store(&addr)
		}
	})
	defer unsubscribe()

	var b *types.Bundle
	pub, err := c.run(ctx, a, req, account, &switched, &b)
	return c.result(a, pub, b, err), err
}

func (c *Coordinator) run(
	ctx context.Context,
	a *attempt,
	req Request,
	account common.Address,
	switched *atomic.Pointer[common.Address],
	out **types.Bundle,
) (*types.Publication, error) {
	profile := req.Profile
	if err := profile.Validate(); err != nil {
		return nil, a.abort(ctx, err)
	}
	if err := c.checkOwnership(ctx, profile.Identity, account); err != nil {
		return nil, a.abort(ctx, err)
	}
	busy, err := c.guard.Busy(ctx, guardKey(account))
	if err != nil {
		return nil, a.abort(ctx, types.NewNetworkError(fmt.Errorf("check publish guard: %w", err)))
	}
	if busy {
		return nil, a.abort(ctx, fmt.Errorf("account %s: %w", account.Hex(), types.ErrPublishInProgress))
	}

	a.enter(ctx, types.StateBundling, nil)
	built, err := c.builder.Build(profile, c.cfg.Credential)
	if err != nil {
		return nil, a.abort(ctx, err)
	}
	b := built.Bundle
	*out = &b
	a.agentName = profile.Name
	a.bundleName = b.Name
	a.size = b.Size()

	a.enter(ctx, types.StateAddressing, nil)
	addr, err := cas.AddressBundle(b)
	if err != nil {
		return nil, a.abort(ctx, err)
	}
	avatar, ok := addr.Paths[profile.AvatarPath()]
	if !ok || !cas.Equal(avatar.CID, built.Avatar.CID) {
		return nil, a.abort(ctx, types.NewEncodingError(fmt.Errorf("avatar %s not addressed as %s", profile.AvatarPath(), built.Avatar.CID)))
	}
	a.root = addr.Root.CID
	a.avatar = avatar.CID
	a.logger.Info("bundle addressed", map[string]any{
		"bundle": b.Name,
		"root":   string(a.root),
		"avatar": string(a.avatar),
		"size":   a.size,
	})
	if err := ctx.Err(); err != nil {
		return nil, a.abort(ctx, types.NewNetworkError(fmt.Errorf("publish canceled: %w", err)))
	}

	a.enter(ctx, types.StatePaying, nil)
	lease, err := c.guard.Acquire(ctx, guardKey(account), guard.Holder{
		AttemptID: a.meta.AttemptID,
		Account:   a.meta.Account,
		Acquired:  c.now().UnixMilli(),
	})
	if err != nil {
		return nil, a.abort(ctx, err)
	}
	defer c.release(ctx, a, lease)

	// Stored before payment so a paid attempt can always be resumed.
	a.saveBundle(ctx, b)

	if err := c.ensureChain(ctx); err != nil {
		return nil, a.abort(ctx, err)
	}
	fee, err := c.fee(ctx)
	if err != nil {
		return nil, a.abort(ctx, err)
	}
	a.feeWei = fee.String()
	if addr := switched.Load(); addr != nil {
		return nil, a.abort(ctx, types.NewValidationError(fmt.Errorf("wallet account changed to %s before payment", addr.Hex())))
	}

	sub, err := c.registry.SubmitRecord(ctx, types.PublicationRecord{
		ContentHash: a.root,
		Timestamp:   b.Created,
		Creator:     a.meta.Account,
		AgentName:   profile.Name,
		AgentIntro:  profile.Intro,
		Identity:    profile.Identity,
		AvatarHash:  a.avatar,
	}, fee)
	if err != nil {
		if errors.Is(err, types.ErrUserRejected) {
			c.collector.IncPaymentRejected()
		}
		if tx := types.TxIDOf(err); tx != "" {
			a.txID = tx
			return nil, a.fail(ctx, err)
		}
		return nil, a.abort(ctx, err)
	}
	c.collector.IncPaymentSent()
	a.txID = sub.TxID
	a.logger.Info("registry record confirmed", map[string]any{
		"tx_id":    sub.TxID,
		"block":    sub.Block,
		"gas_used": sub.GasUsed,
		"fee_wei":  a.feeWei,
	})
	if addr := switched.Load(); addr != nil {
		a.logger.Warn("wallet account changed after payment, continuing upload", map[string]any{"new_account": addr.Hex()})
	}

	return c.upload(ctx, a, b, fee, req.Progress)
}

// upload runs the committed stages. The upload is detached from caller
// cancellation and bounded by the upload timeout.
func (c *Coordinator) upload(ctx context.Context, a *attempt, b types.Bundle, fee *big.Int, progress storage.Progress) (*types.Publication, error) {
	if a.state != types.StateUploading {
		a.enter(ctx, types.StateUploading, nil)
	}

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.UploadTimeout)
	defer cancel()

	res, err := c.uploader.UploadBundle(uctx, b, a.txID, a.meta.ChainID, progress)
	if err != nil {
		c.collector.IncUploadAttempt(false)
		if uctx.Err() != nil && !errors.Is(err, types.ErrNetwork) {
			err = types.NewNetworkError(fmt.Errorf("upload timed out after %s: %w", c.cfg.UploadTimeout, err))
		}
		return nil, a.fail(ctx, err)
	}
	for i := range res.Attempts {
		c.collector.IncUploadAttempt(i > 0)
	}
	c.collector.AddBytesUploaded(b.Size())
	a.logger.Info("bundle uploaded", map[string]any{
		"root":     string(res.Root.Hash),
		"size":     res.Root.Size,
		"attempts": res.Attempts,
	})

	a.enter(ctx, types.StateReconciling, nil)
	if !cas.Equal(res.Root.Hash, a.root) {
		c.collector.IncReconcileMismatch()
		return nil, a.fail(ctx, &types.StageError{
			Kind:     types.ErrReconciliationMismatch,
			Stage:    types.StateReconciling,
			TxID:     a.txID,
			ChainID:  a.meta.ChainID,
			Expected: a.root,
			Got:      res.Root.Hash,
		})
	}

	a.enter(ctx, types.StatePublished, nil)
	c.collector.IncPublishSucceeded()
	a.notify(ctx, nil)
	a.logger.Info("agent published", map[string]any{
		"root":   string(a.root),
		"avatar": string(a.avatar),
		"tx_id":  a.txID,
	})

	pub := &types.Publication{
		Root:    a.root,
		Avatar:  a.avatar,
		TxID:    a.txID,
		ChainID: a.meta.ChainID,
		Size:    b.Size(),
		Bundle:  b.Name,
	}
	if fee != nil {
		pub.Fee = new(big.Int).Set(fee)
	}
	return pub, nil
}

func (c *Coordinator) checkOwnership(ctx context.Context, name string, account common.Address) error {
	if c.owners == nil {
		return nil
	}
	ok, err := c.owners.Owns(ctx, name, account)
	if err != nil {
		return types.NewNetworkError(fmt.Errorf("check owner of %s: %w", name, err))
	}
	if !ok {
		return types.NewValidationError(fmt.Errorf("%s is not owned by %s", name, account.Hex()))
	}
	return nil
}

func (c *Coordinator) ensureChain(ctx context.Context) error {
	current, err := c.wallet.ChainID(ctx)
	if err != nil {
		return types.NewNetworkError(fmt.Errorf("read wallet chain: %w", err))
	}
	if current == c.cfg.ChainID {
		return nil
	}
	if err := c.wallet.SwitchChain(ctx, c.cfg.ChainID); err != nil {
		return types.NewWrongChainError(fmt.Errorf("wallet on chain %d, registry on %d: %w", current, c.cfg.ChainID, err))
	}
	return nil
}

func (c *Coordinator) fee(ctx context.Context) (*big.Int, error) {
	if c.cfg.Fee != nil {
		return new(big.Int).Set(c.cfg.Fee), nil
	}
	return c.registry.GetPublicationFee(ctx)
}

func (c *Coordinator) release(ctx context.Context, a *attempt, lease guard.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("publish guard release failed", map[string]any{"error": err.Error()})
	}
}

func (c *Coordinator) result(a *attempt, pub *types.Publication, b *types.Bundle, err error) *Result {
	a.logger.Debug("metrics snapshot", snapshotFields(c.collector))
	return &Result{
		Meta:        a.meta,
		State:       a.state,
		Trace:       append([]types.State(nil), a.trace...),
		Publication: pub,
		TxID:        a.txID,
		Root:        a.root,
		Avatar:      a.avatar,
		Bundle:      b,
		Duration:    c.now().Sub(a.started),
		Err:         err,
	}
}

func snapshotFields(collector *metrics.Collector) map[string]any {
	if collector == nil {
		return nil
	}
	s := collector.Snapshot()
	return map[string]any{
		"publishes_started":   s.PublishesStarted,
		"publishes_succeeded": s.PublishesSucceeded,
		"publishes_failed":    s.PublishesFailed,
		"publishes_aborted":   s.PublishesAborted,
		"payments_sent":       s.PaymentsSent,
		"upload_attempts":     s.UploadAttempts,
		"bytes_uploaded":      s.BytesUploaded,
	}
}

func guardKey(account common.Address) string {
	return strings.ToLower(account.Hex())
}

// abort returns a pre-payment failure to idle.
func (a *attempt) abort(ctx context.Context, err error) error {
	se := a.wrap(err)
	a.c.collector.IncPublishAborted(kindName(se))
	a.logger.Warn("publish aborted", map[string]any{
		"stage":      string(se.Stage),
		"error_kind": kindName(se),
		"error":      se.Error(),
	})
	if a.state != types.StateIdle {
		a.enter(ctx, types.StateIdle, se)
	}
	return se
}

// fail ends a committed attempt.
func (a *attempt) fail(ctx context.Context, err error) error {
	se := a.wrap(err)
	a.c.collector.IncPublishFailed(kindName(se))
	a.logger.Error("publish failed", map[string]any{
		"stage":      string(se.Stage),
		"error_kind": kindName(se),
		"error":      se.Error(),
		"tx_id":      se.TxID,
	})
	a.enter(ctx, types.StateFailed, se)
	a.notify(ctx, se)
	return se
}

// wrap annotates err with the current stage and committed identifiers.
func (a *attempt) wrap(err error) *types.StageError {
	var se *types.StageError
	if errors.As(err, &se) {
		out := *se
		if out.Stage == "" {
			out.Stage = a.state
		}
		if out.TxID == "" {
			out.TxID = a.txID
		}
		if out.ChainID == 0 {
			out.ChainID = a.meta.ChainID
		}
		return &out
	}

	kind := types.KindOf(err)
	if kind == nil {
		kind = defaultKind(a.state)
	}
	return &types.StageError{
		Kind:    kind,
		Stage:   a.state,
		TxID:    a.txID,
		ChainID: a.meta.ChainID,
		Err:     err,
	}
}

// defaultKind classifies an unclassified error by the stage it came from.
func defaultKind(s types.State) error {
	switch s {
	case types.StateIdle:
		return types.ErrValidation
	case types.StateBundling, types.StateAddressing:
		return types.ErrEncoding
	case types.StateReconciling:
		return types.ErrReconciliationMismatch
	default:
		return types.ErrNetwork
	}
}
