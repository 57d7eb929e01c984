package reader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/types"
)

var (
	// ErrNoJournal is returned by journal reads when no journal is configured.
	ErrNoJournal = errors.New("no attempt journal configured")
	// ErrNoRegistry is returned by registry reads when no registry is configured.
	ErrNoRegistry = errors.New("no registry configured")
)

// Journal is the journal surface the reader needs.
type Journal interface {
	History(ctx context.Context, f lode.Filter) ([]lode.AttemptRecord, error)
	Latest(ctx context.Context, f lode.Filter) ([]lode.AttemptRecord, error)
}

// Registry is the registry surface the reader needs.
type Registry interface {
	Address() common.Address
	GetPublicationFee(ctx context.Context) (*big.Int, error)
	ListRecords(ctx context.Context, page, size int) (*registry.Page, error)
}

// Reader serves read-only CLI commands. Either source may be nil; reads
// that need a missing source fail with ErrNoJournal or ErrNoRegistry.
type Reader struct {
	journal  Journal
	registry Registry
	chainID  int64
}

// New creates a Reader. chainID labels registry responses.
func New(j Journal, r Registry, chainID int64) *Reader {
	return &Reader{journal: j, registry: r, chainID: chainID}
}

// InspectAttempt returns the journaled history of one attempt.
func (r *Reader) InspectAttempt(ctx context.Context, attemptID string) (*InspectAttemptResponse, error) {
	if r.journal == nil {
		return nil, ErrNoJournal
	}
	if attemptID == "" {
		return nil, fmt.Errorf("%w: attempt id is required", types.ErrValidation)
	}
	history, err := r.journal.History(ctx, lode.Filter{AttemptID: attemptID})
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", lode.ErrNoAttempt, attemptID)
	}
	latest, err := r.journal.Latest(ctx, lode.Filter{AttemptID: attemptID})
	if err != nil {
		return nil, err
	}
	last := latest[0]

	resp := &InspectAttemptResponse{
		AttemptID:  last.AttemptID,
		Attempt:    last.Attempt,
		Account:    last.Account,
		ChainID:    last.ChainID,
		State:      last.State,
		AgentName:  last.AgentName,
		BundleName: last.BundleName,
		TxID:       last.TxID,
		RootCID:    last.RootCID,
		AvatarCID:  last.AvatarCID,
		Fee:        formatWei(last.FeeWei),
		ErrorKind:  last.ErrorKind,
		Error:      last.Error,
		StartedAt:  history[0].Time(),
		UpdatedAt:  last.Time(),
		Trace:      make([]string, 0, len(history)),
	}
	if last.ResumeOf != "" {
		resumeOf := last.ResumeOf
		resp.ResumeOf = &resumeOf
	}
	for _, rec := range history {
		resp.Trace = append(resp.Trace, rec.State)
	}
	if last.TxID != "" && last.State != string(types.StatePublished) {
		published, err := r.publishedTx(ctx, last.TxID)
		if err != nil {
			return nil, err
		}
		resp.Resumable = !published
	}
	return resp, nil
}

// publishedTx reports whether any attempt for txID reached published.
func (r *Reader) publishedTx(ctx context.Context, txID string) (bool, error) {
	recs, err := r.journal.Latest(ctx, lode.Filter{TxID: txID})
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.State == string(types.StatePublished) {
			return true, nil
		}
	}
	return false, nil
}

// StatsAttempts counts attempts of account (all accounts when empty).
func (r *Reader) StatsAttempts(ctx context.Context, account string) (*AttemptStats, error) {
	if r.journal == nil {
		return nil, ErrNoJournal
	}
	latest, err := r.journal.Latest(ctx, lode.Filter{Account: account})
	if err != nil {
		return nil, err
	}

	stats := &AttemptStats{Total: len(latest)}
	paid := map[string]bool{}
	for _, rec := range latest {
		switch types.State(rec.State) {
		case types.StatePublished:
			stats.Published++
		case types.StateFailed:
			stats.Failed++
		case types.StateIdle:
			stats.Aborted++
		default:
			stats.InFlight++
		}
		if rec.TxID == "" {
			continue
		}
		tx := strings.ToLower(rec.TxID)
		paid[tx] = paid[tx] || rec.State == string(types.StatePublished)
	}
	for _, published := range paid {
		if !published {
			stats.Resumable++
		}
	}
	return stats, nil
}

// ListAttempts returns the newest attempts first.
func (r *Reader) ListAttempts(ctx context.Context, opts ListAttemptsOptions) ([]ListAttemptItem, error) {
	if r.journal == nil {
		return nil, ErrNoJournal
	}
	latest, err := r.journal.Latest(ctx, lode.Filter{Account: opts.Account})
	if err != nil {
		return nil, err
	}

	items := make([]ListAttemptItem, 0, len(latest))
	for _, rec := range latest {
		if opts.State != "" && rec.State != opts.State {
			continue
		}
		items = append(items, ListAttemptItem{
			AttemptID: rec.AttemptID,
			Attempt:   rec.Attempt,
			State:     rec.State,
			AgentName: rec.AgentName,
			TxID:      rec.TxID,
			UpdatedAt: rec.Time(),
		})
		if opts.Limit > 0 && len(items) == opts.Limit {
			break
		}
	}
	return items, nil
}

// ListRecords returns one page of registry records.
func (r *Reader) ListRecords(ctx context.Context, page, size int) (*ListRecordsResponse, error) {
	if r.registry == nil {
		return nil, ErrNoRegistry
	}
	p, err := r.registry.ListRecords(ctx, page, size)
	if err != nil {
		return nil, err
	}

	resp := &ListRecordsResponse{
		Total:   p.Total,
		Page:    p.Page,
		Size:    p.Size,
		Records: make([]ListRecordItem, len(p.Records)),
	}
	for i, rec := range p.Records {
		resp.Records[i] = ListRecordItem{
			AgentName: rec.AgentName,
			Identity:  rec.Identity,
			Creator:   rec.Creator,
			Root:      string(rec.ContentHash),
			Avatar:    string(rec.AvatarHash),
			Intro:     rec.AgentIntro,
			CreatedAt: rec.CreatedAt(),
		}
	}
	return resp, nil
}

// Fee returns the registry's publication fee.
func (r *Reader) Fee(ctx context.Context) (*FeeResponse, error) {
	if r.registry == nil {
		return nil, ErrNoRegistry
	}
	wei, err := r.registry.GetPublicationFee(ctx)
	if err != nil {
		return nil, err
	}
	return &FeeResponse{
		Registry: r.registry.Address().Hex(),
		ChainID:  r.chainID,
		Wei:      wei.String(),
		Ether:    registry.FormatEther(wei),
	}, nil
}

// formatWei renders a journaled wei amount in ether, or returns s unchanged
// when it does not parse.
func formatWei(s string) string {
	if s == "" {
		return ""
	}
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return s
	}
	return registry.FormatEther(wei) + " ETH"
}
