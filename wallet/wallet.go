// Package wallet abstracts the account that pays for publications.
//
// The pipeline only needs a handful of capabilities: read the account,
// read and switch the chain, sign a message and send a transaction. Wallet
// captures them so the registry and coordinator never depend on a
// particular signer. KeyWallet implements it over a local private key and
// JSON-RPC endpoints.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrChainNotConfigured is returned when switching to a chain without a
// known endpoint.
var ErrChainNotConfigured = errors.New("chain not configured")

// TxRequest describes a state-changing call.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	// Gas is the gas limit. Zero means estimate.
	Gas uint64
}

// Wallet is the account capability consumed by the pipeline.
type Wallet interface {
	// Account returns the current account.
	Account(ctx context.Context) (common.Address, error)
	// ChainID returns the chain the wallet currently sends to.
	ChainID(ctx context.Context) (int64, error)
	// SwitchChain moves the wallet to chainID or refuses.
	SwitchChain(ctx context.Context, chainID int64) error
	// SignMessage signs msg with the personal-message prefix.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	// SendTransaction signs and broadcasts req, returning its hash.
	// A dismissed prompt yields an error matching types.ErrUserRejected.
	// A non-zero hash returned with an error means the transaction was
	// signed and may have been broadcast.
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	// OnAccountChange registers fn and returns a function removing it.
	OnAccountChange(fn func(common.Address)) (unsubscribe func())
}

// Reader is the read side of a chain connection.
type Reader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Client is the JSON-RPC surface KeyWallet uses. *ethclient.Client
// satisfies it.
type Client interface {
	Reader
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	Close()
}
