package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/aipfs/adapter"
	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/log"
	"github.com/pithecene-io/aipfs/types"
)

// attempt tracks one pass through the state machine and mirrors every
// transition to the journal and the observer.
type attempt struct {
	c       *Coordinator
	meta    *types.AttemptMeta
	logger  *log.Logger
	started time.Time
	observe func(types.State)

	state types.State
	trace []types.State

	// carried onto every journal record once known
	txID       string
	root       types.ContentIdentifier
	avatar     types.ContentIdentifier
	agentName  string
	bundleName string
	feeWei     string
	size       int64
}

func (c *Coordinator) newAttempt(meta *types.AttemptMeta, initial types.State, observe func(types.State)) *attempt {
	a := &attempt{
		c:       c,
		meta:    meta,
		logger:  c.logger.With(attemptLogFields(meta)),
		started: c.now(),
		observe: observe,
		state:   initial,
		trace:   []types.State{initial},
	}
	return a
}

func attemptLogFields(meta *types.AttemptMeta) map[string]any {
	fields := map[string]any{
		"attempt_id": meta.AttemptID,
		"account":    meta.Account,
		"attempt":    meta.Attempt,
	}
	if meta.ResumeOf != nil {
		fields["resume_of"] = *meta.ResumeOf
	}
	return fields
}

// enter moves to next. Illegal edges are programming errors and panic.
func (a *attempt) enter(ctx context.Context, next types.State, cause error) {
	if !types.CanTransition(a.state, next) {
		panic(fmt.Sprintf("publish: illegal transition %s -> %s", a.state, next))
	}
	a.logger.Debug("state transition", map[string]any{"from": string(a.state), "to": string(next)})
	a.state = next
	a.trace = append(a.trace, next)
	a.journal(ctx, cause)
	if a.observe != nil {
		a.observe(next)
	}
}

func (a *attempt) record(cause error) *lode.AttemptRecord {
	rec := lode.NewAttemptRecord(a.meta, a.state, a.c.now())
	rec.TxID = a.txID
	rec.RootCID = string(a.root)
	rec.AvatarCID = string(a.avatar)
	rec.AgentName = a.agentName
	rec.BundleName = a.bundleName
	rec.FeeWei = a.feeWei
	if cause != nil {
		rec.ErrorKind = kindName(cause)
		rec.Error = cause.Error()
	}
	return rec
}

// journal writes the current state. The write outlives caller
// cancellation so a paid attempt is always recorded.
func (a *attempt) journal(ctx context.Context, cause error) {
	if a.c.journal == nil {
		return
	}
	if err := a.c.journal.Append(context.WithoutCancel(ctx), a.record(cause)); err != nil {
		a.logger.Warn("journal append failed", map[string]any{
			"state": string(a.state),
			"error": err.Error(),
		})
	}
}

func (a *attempt) saveBundle(ctx context.Context, b types.Bundle) {
	if a.c.journal == nil {
		return
	}
	if err := a.c.journal.SaveBundle(context.WithoutCancel(ctx), a.record(nil), b); err != nil {
		a.logger.Warn("journal bundle save failed", map[string]any{
			"bundle": b.Name,
			"error":  err.Error(),
		})
	}
}

// notify emits the outcome of a committed attempt. Failures are logged
// and never change the outcome.
func (a *attempt) notify(ctx context.Context, cause error) {
	if a.c.notifier == nil {
		return
	}
	event := &adapter.PublicationEvent{
		EventVersion: types.JournalVersion,
		EventType:    adapter.EventAgentPublished,
		AttemptID:    a.meta.AttemptID,
		Attempt:      a.meta.Attempt,
		Account:      a.meta.Account,
		ChainID:      a.meta.ChainID,
		AgentName:    a.agentName,
		RootCID:      string(a.root),
		AvatarCID:    string(a.avatar),
		TxID:         a.txID,
		FeeWei:       a.feeWei,
		State:        string(a.state),
		SizeBytes:    a.size,
		Timestamp:    a.c.now().UTC().Format(time.RFC3339Nano),
		DurationMs:   a.c.now().Sub(a.started).Milliseconds(),
	}
	if a.meta.ResumeOf != nil {
		event.ResumeOf = *a.meta.ResumeOf
	}
	if cause != nil {
		event.EventType = adapter.EventPublicationFailed
		event.ErrorKind = kindName(cause)
		event.Error = cause.Error()
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.c.cfg.NotifyTimeout)
	defer cancel()
	if err := a.c.notifier.Publish(nctx, event); err != nil {
		a.c.collector.IncNotifyFailure()
		a.logger.Warn("notification failed", map[string]any{
			"event_type": event.EventType,
			"error":      err.Error(),
		})
		return
	}
	a.c.collector.IncNotifySuccess()
}

// kindName is the label used for a failure in journals, events and
// metrics.
func kindName(err error) string {
	switch types.KindOf(err) {
	case types.ErrValidation:
		return "validation"
	case types.ErrEncoding:
		return "encoding"
	case types.ErrEmptyBundle:
		return "empty_bundle"
	case types.ErrPublishInProgress:
		return "publish_in_progress"
	case types.ErrWrongChain:
		return "wrong_chain"
	case types.ErrInsufficientFee:
		return "insufficient_fee"
	case types.ErrUserRejected:
		return "user_rejected"
	case types.ErrTransactionReverted:
		return "transaction_reverted"
	case types.ErrUploadRejected:
		return "upload_rejected"
	case types.ErrNetwork:
		return "network"
	case types.ErrReconciliationMismatch:
		return "reconciliation_mismatch"
	default:
		return "unclassified"
	}
}
