package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pithecene-io/aipfs/types"
)

// Confirmer approves a transaction before it is signed. Returning false
// dismisses the request.
type Confirmer func(ctx context.Context, chainID int64, req TxRequest) (bool, error)

// DialFunc opens a client for an endpoint.
type DialFunc func(ctx context.Context, url string) (Client, error)

// DialRPC dials a JSON-RPC endpoint with ethclient.
func DialRPC(ctx context.Context, url string) (Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Config configures a KeyWallet.
type Config struct {
	// PrivateKey is the hex-encoded secp256k1 key, with or without 0x.
	PrivateKey string
	// ChainID is the chain selected at startup.
	ChainID int64
	// Endpoints maps chain ids to JSON-RPC URLs.
	Endpoints map[int64]string
	// Confirm gates every transaction. Nil approves all.
	Confirm Confirmer
	// Dial overrides DialRPC.
	Dial DialFunc
}

// KeyWallet signs with a local key. Its account never changes.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	cfg     Config

	mu      sync.Mutex
	chainID int64
	client  Client
}

// ParsePrivateKey decodes a hex private key.
func ParsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// NewKeyWallet creates a wallet connected to cfg.ChainID.
func NewKeyWallet(ctx context.Context, cfg Config) (*KeyWallet, error) {
	key, addr, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.Dial == nil {
		cfg.Dial = DialRPC
	}
	w := &KeyWallet{key: key, address: addr, cfg: cfg}
	if err := w.SwitchChain(ctx, cfg.ChainID); err != nil {
		return nil, err
	}
	return w, nil
}

// Account returns the key's address.
func (w *KeyWallet) Account(context.Context) (common.Address, error) {
	return w.address, nil
}

// ChainID returns the selected chain.
func (w *KeyWallet) ChainID(context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

// SwitchChain dials the endpoint for chainID and verifies the remote
// chain id. Unknown chains are refused with ErrChainNotConfigured.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil && w.chainID == chainID {
		return nil
	}
	url, ok := w.cfg.Endpoints[chainID]
	if !ok || url == "" {
		return fmt.Errorf("switch to chain %d: %w", chainID, ErrChainNotConfigured)
	}
	c, err := w.cfg.Dial(ctx, url)
	if err != nil {
		return types.NewNetworkError(fmt.Errorf("dial chain %d: %w", chainID, err))
	}
	remote, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return types.NewNetworkError(fmt.Errorf("read chain id: %w", err))
	}
	if remote.Int64() != chainID {
		c.Close()
		return fmt.Errorf("endpoint for chain %d reports chain %s", chainID, remote)
	}
	if w.client != nil {
		w.client.Close()
	}
	w.client = c
	w.chainID = chainID
	return nil
}

func (w *KeyWallet) current() (Client, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client, w.chainID
}

// SignMessage signs msg as a personal message. V is 27 or 28.
func (w *KeyWallet) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction builds, confirms, signs and broadcasts req.
func (w *KeyWallet) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	client, chainID := w.current()

	if w.cfg.Confirm != nil {
		ok, err := w.cfg.Confirm(ctx, chainID, req)
		if err != nil {
			return common.Hash{}, fmt.Errorf("confirm transaction: %w", err)
		}
		if !ok {
			return common.Hash{}, types.NewUserRejectedError(fmt.Errorf("transaction to %s declined", req.To.Hex()))
		}
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To

	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, types.NewNetworkError(fmt.Errorf("read nonce: %w", err))
	}

	gas := req.Gas
	if gas == 0 {
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
	}

	txData, err := w.feeFields(ctx, client, chainID, nonce, gas, to, value, req.Data)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := gethtypes.SignNewTx(w.key, gethtypes.LatestSignerForChainID(big.NewInt(chainID)), txData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	// The node may have accepted the transaction even when its response was
	// lost, so the hash goes back with the error.
	if err := client.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// feeFields prefers a dynamic-fee transaction and falls back to a legacy
// one on chains without a base fee.
func (w *KeyWallet) feeFields(ctx context.Context, client Client, chainID int64, nonce, gas uint64, to common.Address, value *big.Int, data []byte) (gethtypes.TxData, error) {
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("read head: %w", err))
	}
	if head.BaseFee == nil {
		price, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, types.NewNetworkError(fmt.Errorf("suggest gas price: %w", err))
		}
		return &gethtypes.LegacyTx{Nonce: nonce, GasPrice: price, Gas: gas, To: &to, Value: value, Data: data}, nil
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("suggest tip: %w", err))
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return &gethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}, nil
}

// CallContract executes a read-only call on the selected chain.
func (w *KeyWallet) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	client, _ := w.current()
	return client.CallContract(ctx, call, blockNumber)
}

// TransactionReceipt fetches a receipt on the selected chain.
func (w *KeyWallet) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	client, _ := w.current()
	return client.TransactionReceipt(ctx, txHash)
}

// OnAccountChange is a no-op: a key wallet has one account.
func (w *KeyWallet) OnAccountChange(func(common.Address)) func() {
	return func() {}
}

// Close releases the RPC connection.
func (w *KeyWallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
	return nil
}

var (
	_ Wallet = (*KeyWallet)(nil)
	_ Reader = (*KeyWallet)(nil)
)
