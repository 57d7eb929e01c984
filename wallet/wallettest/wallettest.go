// Package wallettest provides a scriptable in-memory Wallet for tests.
package wallettest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pithecene-io/aipfs/types"
	"github.com/pithecene-io/aipfs/wallet"
)

// CallHandler answers a read-only contract call.
type CallHandler func(msg ethereum.CallMsg) ([]byte, error)

// Wallet is a fake wallet and chain reader. Exported fields may be set
// before use; read recorded state through the accessor methods.
type Wallet struct {
	// Addr is the account returned by Account.
	Addr common.Address
	// Chain is the current chain id.
	Chain int64
	// Switchable lists chains SwitchChain accepts.
	Switchable map[int64]bool
	// Reject makes SendTransaction fail as a dismissed prompt.
	Reject bool
	// SendErr is returned by SendTransaction when set.
	SendErr error
	// BroadcastErr is returned with the hash after the transaction is
	// recorded as sent, like a node response lost in transit.
	BroadcastErr error
	// Call answers CallContract.
	Call CallHandler
	// Status is the receipt status for sent transactions (default 1).
	Status *uint64
	// PendingPolls is how many receipt polls return NotFound first.
	PendingPolls int
	// Hook runs on every recorded event, outside the lock.
	Hook func(event string)

	mu        sync.Mutex
	sent      []wallet.TxRequest
	events    []string
	polls     map[common.Hash]int
	listeners map[int]func(common.Address)
	nextID    int
}

// New returns a wallet for addr on chain.
func New(addr common.Address, chain int64) *Wallet {
	return &Wallet{Addr: addr, Chain: chain}
}

func (w *Wallet) record(event string) {
	w.mu.Lock()
	w.events = append(w.events, event)
	hook := w.Hook
	w.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

// Events returns the recorded event log.
func (w *Wallet) Events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

// Sent returns the transactions sent so far.
func (w *Wallet) Sent() []wallet.TxRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wallet.TxRequest(nil), w.sent...)
}

// Account implements wallet.Wallet.
func (w *Wallet) Account(context.Context) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Addr, nil
}

// ChainID implements wallet.Wallet.
func (w *Wallet) ChainID(context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Chain, nil
}

// SwitchChain implements wallet.Wallet.
func (w *Wallet) SwitchChain(_ context.Context, chainID int64) error {
	w.record(fmt.Sprintf("switch:%d", chainID))
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Chain == chainID {
		return nil
	}
	if !w.Switchable[chainID] {
		return fmt.Errorf("switch to %d: %w", chainID, wallet.ErrChainNotConfigured)
	}
	w.Chain = chainID
	return nil
}

// SignMessage implements wallet.Wallet with a deterministic fake signature.
func (w *Wallet) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	return crypto.Keccak256(w.Addr.Bytes(), msg), nil
}

// SendTransaction implements wallet.Wallet.
func (w *Wallet) SendTransaction(_ context.Context, req wallet.TxRequest) (common.Hash, error) {
	w.record("send")
	if w.Reject {
		return common.Hash{}, types.NewUserRejectedError(errors.New("user denied transaction signature"))
	}
	if w.SendErr != nil {
		return common.Hash{}, w.SendErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, req)
	return TxHash(len(w.sent)), w.BroadcastErr
}

// TxHash is the hash assigned to the n-th sent transaction (1-based).
func TxHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(0xabc00 + n)))
}

// CallContract implements wallet.Reader.
func (w *Wallet) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if w.Call == nil {
		return nil, errors.New("no call handler")
	}
	return w.Call(msg)
}

// TransactionReceipt implements wallet.Reader.
func (w *Wallet) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	w.mu.Lock()
	if w.polls == nil {
		w.polls = map[common.Hash]int{}
	}
	w.polls[hash]++
	n := w.polls[hash]
	known := false
	for i := range w.sent {
		if TxHash(i+1) == hash {
			known = true
		}
	}
	w.mu.Unlock()

	if !known || n <= w.PendingPolls {
		return nil, ethereum.NotFound
	}
	w.record("confirmed")
	status := gethtypes.ReceiptStatusSuccessful
	if w.Status != nil {
		status = *w.Status
	}
	return &gethtypes.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
}

// OnAccountChange implements wallet.Wallet.
func (w *Wallet) OnAccountChange(fn func(common.Address)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listeners == nil {
		w.listeners = map[int]func(common.Address){}
	}
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// ChangeAccount switches the account and notifies listeners.
func (w *Wallet) ChangeAccount(addr common.Address) {
	w.mu.Lock()
	w.Addr = addr
	fns := make([]func(common.Address), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(addr)
	}
}

var (
	_ wallet.Wallet = (*Wallet)(nil)
	_ wallet.Reader = (*Wallet)(nil)
)
