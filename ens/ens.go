// Package ens resolves name ownership and binds published content to names
// on the Ethereum Name Service.
package ens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/types"
	"github.com/pithecene-io/aipfs/wallet"
)

// Mainnet deployment.
const (
	DefaultChainID        = 1
	DefaultRegistry       = "0x00000000000c2e074ec69a0dfb2997ba6c7d2e1e"
	DefaultReverseRecords = "0x3671aE578E63FdF66ad4F3E12CC0c0d71Ac7510C"
	DefaultNameWrapper    = "0xD4416b13d2b3a9aBae7AcD5D6C2BbDBE25686401"
	DefaultLookupTimeout  = 10 * time.Second
)

// ErrNoResolver is returned when a name has no resolver set.
var ErrNoResolver = errors.New("no resolver found for this name")

// Config configures a Client.
type Config struct {
	ChainID        int64
	Registry       common.Address
	ReverseRecords common.Address
	NameWrapper    common.Address
	LookupTimeout  time.Duration
	PollInterval   time.Duration
}

// DefaultConfig returns the mainnet configuration.
func DefaultConfig() Config {
	return Config{
		ChainID:        DefaultChainID,
		Registry:       common.HexToAddress(DefaultRegistry),
		ReverseRecords: common.HexToAddress(DefaultReverseRecords),
		NameWrapper:    common.HexToAddress(DefaultNameWrapper),
		LookupTimeout:  DefaultLookupTimeout,
		PollInterval:   registry.DefaultPollInterval,
	}
}

// Client talks to the name service contracts.
type Client struct {
	cfg      Config
	wallet   wallet.Wallet
	reader   wallet.Reader
	registry abi.ABI
	resolver abi.ABI
	reverse  abi.ABI
	wrapper  abi.ABI
}

// New creates a client. Reads go through r, writes through w.
func New(cfg Config, w wallet.Wallet, r wallet.Reader) (*Client, error) {
	c := &Client{cfg: cfg, wallet: w, reader: r}
	for _, p := range []struct {
		dst *abi.ABI
		src string
	}{
		{&c.registry, registryABI},
		{&c.resolver, resolverABI},
		{&c.reverse, reverseRecordsABI},
		{&c.wrapper, nameWrapperABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(p.src))
		if err != nil {
			return nil, fmt.Errorf("parse ens abi: %w", err)
		}
		*p.dst = parsed
	}
	if c.cfg.LookupTimeout <= 0 {
		c.cfg.LookupTimeout = DefaultLookupTimeout
	}
	if c.cfg.PollInterval <= 0 {
		c.cfg.PollInterval = registry.DefaultPollInterval
	}
	return c, nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("call %s: %w", method, err))
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (c *Client) addressCall(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (common.Address, error) {
	out, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Resolver returns the resolver of name.
func (c *Client) Resolver(ctx context.Context, name string) (common.Address, error) {
	node, err := Namehash(name)
	if err != nil {
		return common.Address{}, err
	}
	return c.addressCall(ctx, c.registry, c.cfg.Registry, "resolver", node)
}

// Owner returns the effective owner of name, unwrapping names held by the
// name wrapper.
func (c *Client) Owner(ctx context.Context, name string) (common.Address, error) {
	node, err := Namehash(name)
	if err != nil {
		return common.Address{}, err
	}
	owner, err := c.addressCall(ctx, c.registry, c.cfg.Registry, "owner", node)
	if err != nil {
		return common.Address{}, err
	}
	if c.cfg.NameWrapper != (common.Address{}) && owner == c.cfg.NameWrapper {
		return c.addressCall(ctx, c.wrapper, c.cfg.NameWrapper, "ownerOf", new(big.Int).SetBytes(node.Bytes()))
	}
	return owner, nil
}

// Owns reports whether account owns name.
func (c *Client) Owns(ctx context.Context, name string, account common.Address) (bool, error) {
	owner, err := c.Owner(ctx, name)
	if err != nil {
		return false, err
	}
	return owner != (common.Address{}) && owner == account, nil
}

// ContentHash reads the identifier currently bound to name.
func (c *Client) ContentHash(ctx context.Context, name string) (types.ContentIdentifier, error) {
	node, err := Namehash(name)
	if err != nil {
		return "", err
	}
	res, err := c.Resolver(ctx, name)
	if err != nil {
		return "", err
	}
	if res == (common.Address{}) {
		return "", ErrNoResolver
	}
	out, err := c.call(ctx, c.resolver, res, "contenthash", node)
	if err != nil {
		return "", err
	}
	return DecodeContentHash(*abi.ConvertType(out[0], new([]byte)).(*[]byte))
}

// OwnedNames returns the primary name of account from the reverse records
// plus every candidate the account owns, deduplicated. The reverse lookup
// is bounded by the lookup timeout.
func (c *Client) OwnedNames(ctx context.Context, account common.Address, candidates ...string) ([]string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	out, err := c.call(lookupCtx, c.reverse, c.cfg.ReverseRecords, "getNames", []common.Address{account})
	if err != nil {
		return nil, fmt.Errorf("reverse lookup: %w", err)
	}
	for _, n := range *abi.ConvertType(out[0], new([]string)).(*[]string) {
		add(n)
	}

	for _, cand := range candidates {
		norm, err := Normalize(cand)
		if err != nil || norm == "" || seen[norm] {
			continue
		}
		ok, err := c.Owns(ctx, norm, account)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", norm, err)
		}
		if ok {
			add(norm)
		}
	}
	return names, nil
}

// ensureChain switches the wallet to the name service chain.
func (c *Client) ensureChain(ctx context.Context) error {
	current, err := c.wallet.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain: %w", err)
	}
	if current == c.cfg.ChainID {
		return nil
	}
	if err := c.wallet.SwitchChain(ctx, c.cfg.ChainID); err != nil {
		return types.NewWrongChainError(err)
	}
	return nil
}

// BindContent points name's contenthash record at id and waits for the
// transaction to be included. It returns the transaction id.
func (c *Client) BindContent(ctx context.Context, name string, id types.ContentIdentifier) (string, error) {
	encoded, err := EncodeContentHash(id)
	if err != nil {
		return "", types.NewEncodingError(err)
	}
	node, err := Namehash(name)
	if err != nil {
		return "", types.NewValidationError(err)
	}
	if err := c.ensureChain(ctx); err != nil {
		return "", err
	}

	account, err := c.wallet.Account(ctx)
	if err != nil {
		return "", fmt.Errorf("read account: %w", err)
	}
	owns, err := c.Owns(ctx, name, account)
	if err != nil {
		return "", err
	}
	if !owns {
		return "", types.NewValidationError(fmt.Errorf("%s is not owned by %s", name, account.Hex()))
	}

	res, err := c.Resolver(ctx, name)
	if err != nil {
		return "", err
	}
	if res == (common.Address{}) {
		return "", ErrNoResolver
	}

	input, err := c.resolver.Pack("setContenthash", node, encoded)
	if err != nil {
		return "", types.NewEncodingError(fmt.Errorf("pack setContenthash: %w", err))
	}
	hash, err := c.wallet.SendTransaction(ctx, wallet.TxRequest{To: res, Data: input})
	if err != nil {
		return "", err
	}
	receipt, err := registry.WaitForReceipt(ctx, c.reader, hash, c.cfg.PollInterval)
	if err != nil {
		return hash.Hex(), types.NewNetworkError(err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return hash.Hex(), types.NewRevertedError(fmt.Errorf("setContenthash reverted: %s", hash.Hex()))
	}
	return hash.Hex(), nil
}
