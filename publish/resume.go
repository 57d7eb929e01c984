package publish

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/guard"
	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/storage"
	"github.com/pithecene-io/aipfs/types"
)

// History finds journaled attempts. *lode.Client satisfies it.
type History interface {
	FindByTx(ctx context.Context, txID string) (*lode.AttemptRecord, error)
	LoadBundle(ctx context.Context, rec *lode.AttemptRecord) (types.Bundle, error)
}

// ResumeRequest re-uploads the bundle of a paid attempt.
type ResumeRequest struct {
	// TxID is the confirmed registry transaction. Required.
	TxID string
	// Bundle overrides the journaled bundle, e.g. one read from an archive.
	Bundle *types.Bundle
	// Progress receives upload percentages.
	Progress storage.Progress
	// OnState observes every state entered after the initial one.
	OnState func(types.State)
}

// Resume uploads the bundle paid for by req.TxID without paying again.
// The attempt starts in uploading and continues through reconciliation.
// The transaction must be confirmed and successful on chain.
//
// When the journal knows the transaction, the bundle must address to the
// root it recorded, and the new attempt is linked to the paid one through
// resume_of.
func (c *Coordinator) Resume(ctx context.Context, req ResumeRequest) (*Result, error) {
	if req.TxID == "" {
		return nil, types.NewValidationError(errors.New("transaction id is required"))
	}

	prev, err := c.findPaid(ctx, req.TxID)
	if err != nil {
		return nil, err
	}
	if prev == nil && req.Bundle == nil {
		return nil, types.NewValidationError(fmt.Errorf("no journaled attempt for tx %s; provide the bundle archive", req.TxID))
	}
	if prev != nil && prev.State == string(types.StatePublished) {
		return nil, types.NewValidationError(fmt.Errorf("tx %s already published as %s", req.TxID, prev.RootCID))
	}
	if prev != nil && prev.ErrorKind == kindName(types.ErrTransactionReverted) {
		return nil, &types.StageError{
			Kind:    types.ErrTransactionReverted,
			Stage:   types.StatePaying,
			TxID:    req.TxID,
			ChainID: prev.ChainID,
			Err:     fmt.Errorf("tx %s reverted, nothing was recorded", req.TxID),
		}
	}
	paid, err := c.registry.PaidReceipt(ctx, req.TxID)
	if err != nil {
		return nil, err
	}

	var b types.Bundle
	switch {
	case req.Bundle != nil:
		b = *req.Bundle
	default:
		b, err = c.history.LoadBundle(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("load bundle for tx %s: %w", req.TxID, err)
		}
	}

	meta, err := c.resumeMeta(ctx, prev)
	if err != nil {
		return nil, err
	}
	a := c.newAttempt(meta, types.StateUploading, req.OnState)
	a.txID = req.TxID
	a.bundleName = b.Name
	a.size = b.Size()
	var fee *big.Int
	if prev != nil {
		a.agentName = prev.AgentName
		a.avatar = types.ContentIdentifier(prev.AvatarCID)
		a.feeWei = prev.FeeWei
		if v, ok := new(big.Int).SetString(prev.FeeWei, 10); ok {
			fee = v
		}
	}
	c.collector.IncPublishStarted()
	a.logger.Info("resume started", map[string]any{"tx_id": req.TxID, "bundle": b.Name})

	addr, err := cas.AddressBundle(b)
	if err != nil {
		a.journal(ctx, nil)
		err = a.fail(ctx, err)
		return c.result(a, nil, &b, err), err
	}
	a.root = addr.Root.CID
	if want := paidRoot(prev, paid); want != "" && !cas.Equal(want, addr.Root.CID) {
		a.journal(ctx, nil)
		err := a.fail(ctx, &types.StageError{
			Kind:     types.ErrReconciliationMismatch,
			Stage:    types.StateUploading,
			TxID:     req.TxID,
			ChainID:  meta.ChainID,
			Expected: want,
			Got:      addr.Root.CID,
			Err:      errors.New("bundle does not address to the paid root"),
		})
		return c.result(a, nil, &b, err), err
	}

	a.journal(ctx, nil)
	a.saveBundle(ctx, b)
	if a.observe != nil {
		a.observe(types.StateUploading)
	}

	lease, err := c.guard.Acquire(ctx, strings.ToLower(meta.Account), guard.Holder{
		AttemptID: meta.AttemptID,
		Account:   meta.Account,
		Acquired:  c.now().UnixMilli(),
	})
	if err != nil {
		err = a.fail(ctx, err)
		return c.result(a, nil, &b, err), err
	}
	defer c.release(ctx, a, lease)

	pub, err := c.upload(ctx, a, b, fee, req.Progress)
	return c.result(a, pub, &b, err), err
}

// paidRoot is the root the payment recorded: the on-chain event when the
// receipt carries one, else the journaled root.
func paidRoot(prev *lode.AttemptRecord, paid *registry.Submission) types.ContentIdentifier {
	if paid != nil && paid.Recorded != nil && paid.Recorded.ContentHash != "" {
		return paid.Recorded.ContentHash
	}
	if prev != nil {
		return types.ContentIdentifier(prev.RootCID)
	}
	return ""
}

func (c *Coordinator) findPaid(ctx context.Context, txID string) (*lode.AttemptRecord, error) {
	if c.history == nil {
		return nil, nil
	}
	prev, err := c.history.FindByTx(ctx, txID)
	if errors.Is(err, lode.ErrNoAttempt) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up tx %s: %w", txID, err)
	}
	return prev, nil
}

// resumeMeta links the new attempt to the one that paid.
func (c *Coordinator) resumeMeta(ctx context.Context, prev *lode.AttemptRecord) (*types.AttemptMeta, error) {
	meta := &types.AttemptMeta{
		AttemptID: c.cfg.NewAttemptID(),
		ChainID:   c.cfg.ChainID,
		Attempt:   1,
	}
	if prev == nil {
		account, err := c.wallet.Account(ctx)
		if err != nil {
			return nil, types.NewNetworkError(fmt.Errorf("read wallet account: %w", err))
		}
		meta.Account = account.Hex()
		return meta, nil
	}

	meta.Account = common.HexToAddress(prev.Account).Hex()
	meta.ChainID = prev.ChainID
	meta.Attempt = prev.Attempt + 1
	paid := prev.AttemptID
	if prev.ResumeOf != "" {
		paid = prev.ResumeOf
	}
	meta.ResumeOf = &paid
	return meta, nil
}
