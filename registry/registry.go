// Package registry reads and appends to the on-chain publication log.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/pithecene-io/aipfs/types"
	"github.com/pithecene-io/aipfs/wallet"
)

// Defaults for mainnet.
const (
	DefaultAddress      = "0x071e5993a7fa46ccaa7135ff07e840c7b9c5073c"
	DefaultGasLimit     = 500000
	DefaultPollInterval = 2 * time.Second
)

// record mirrors the contract's Record tuple.
type record struct {
	Contenthash       string
	Timestamp         *big.Int
	CreatorAddress    common.Address
	AgentName         string
	AgentIntro        string
	EnsName           string
	AvatarContentHash string
	Extension         string
	OptionalField     string
}

func (r record) toDomain() types.PublicationRecord {
	var ts int64
	if r.Timestamp != nil && r.Timestamp.IsInt64() {
		ts = r.Timestamp.Int64()
	}
	return types.PublicationRecord{
		ContentHash: types.ContentIdentifier(r.Contenthash),
		Timestamp:   ts,
		Creator:     r.CreatorAddress.Hex(),
		AgentName:   r.AgentName,
		AgentIntro:  r.AgentIntro,
		Identity:    r.EnsName,
		AvatarHash:  types.ContentIdentifier(r.AvatarContentHash),
		Extension:   r.Extension,
		Optional:    r.OptionalField,
	}
}

// Config configures a Client.
type Config struct {
	// Address is the registry contract.
	Address common.Address
	// GasLimit for recordData (default 500000).
	GasLimit uint64
	// PollInterval between receipt polls (default 2s).
	PollInterval time.Duration
}

// Client wraps the registry contract.
type Client struct {
	abi    abi.ABI
	cfg    Config
	wallet wallet.Wallet
	reader wallet.Reader
}

// Submission is a confirmed registry write.
type Submission struct {
	TxID    string
	Block   uint64
	GasUsed uint64
	// Recorded is the record decoded from the DataRecorded event, when
	// the receipt carries one.
	Recorded *types.PublicationRecord
}

// New creates a client. Writes go through w; reads go through r.
func New(cfg Config, w wallet.Wallet, r wallet.Reader) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("registry address is required")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Client{abi: parsed, cfg: cfg, wallet: w, reader: r}, nil
}

// Address returns the contract address.
func (c *Client) Address() common.Address { return c.cfg.Address }

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := c.cfg.Address
	out, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("call %s: %w", method, err))
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// GetPublicationFee reads the current fee in wei.
func (c *Client) GetPublicationFee(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "priceEth")
	if err != nil {
		return nil, types.NewInsufficientFeeError(fmt.Errorf("read fee: %w", err))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SubmitRecord appends rec paying exactly feePaid and blocks until the
// transaction is included. The fee is re-read first; a failed read or a
// different amount fails with ErrInsufficientFee before anything is sent.
//
// Failures after broadcast are *types.StageError values carrying the
// transaction id.
func (c *Client) SubmitRecord(ctx context.Context, rec types.PublicationRecord, feePaid *big.Int) (*Submission, error) {
	fee, err := c.GetPublicationFee(ctx)
	if err != nil {
		return nil, err
	}
	if feePaid == nil || fee.Cmp(feePaid) != 0 {
		return nil, types.NewInsufficientFeeError(fmt.Errorf("registry fee is %s wei, paying %v wei", fee, feePaid))
	}

	input, err := c.abi.Pack("recordData",
		string(rec.ContentHash),
		big.NewInt(rec.Timestamp),
		rec.AgentName,
		rec.AgentIntro,
		rec.Identity,
		string(rec.AvatarHash),
		rec.Extension,
		rec.Optional,
	)
	if err != nil {
		return nil, types.NewEncodingError(fmt.Errorf("pack recordData: %w", err))
	}

	hash, err := c.wallet.SendTransaction(ctx, wallet.TxRequest{
		To:    c.cfg.Address,
		Value: new(big.Int).Set(feePaid),
		Data:  input,
		Gas:   c.cfg.GasLimit,
	})
	if err != nil {
		err = classifySendError(err)
		if hash != (common.Hash{}) && !errors.Is(err, types.ErrUserRejected) && !errors.Is(err, types.ErrInsufficientFee) {
			return nil, &types.StageError{Kind: types.ErrNetwork, Stage: types.StatePaying, TxID: hash.Hex(), Err: err}
		}
		return nil, err
	}

	receipt, err := c.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, &types.StageError{Kind: types.ErrNetwork, Stage: types.StatePaying, TxID: hash.Hex(), Err: err}
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, &types.StageError{
			Kind:  types.ErrTransactionReverted,
			Stage: types.StatePaying,
			TxID:  hash.Hex(),
			Err:   types.NewRevertedError(fmt.Errorf("recordData reverted in block %s", receipt.BlockNumber)),
		}
	}

	sub := &Submission{TxID: hash.Hex(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		sub.Block = receipt.BlockNumber.Uint64()
	}
	sub.Recorded = c.recordedEvent(receipt)
	return sub, nil
}

// PaidReceipt reads the receipt of txID once. An unknown or pending
// transaction fails with ErrValidation, a reverted one with
// ErrTransactionReverted.
func (c *Client) PaidReceipt(ctx context.Context, txID string) (*Submission, error) {
	raw, err := hexutil.Decode(txID)
	if err != nil || len(raw) != common.HashLength {
		return nil, types.NewValidationError(fmt.Errorf("invalid transaction id %q", txID))
	}
	hash := common.BytesToHash(raw)

	receipt, err := c.reader.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return nil, types.NewValidationError(fmt.Errorf("tx %s is not confirmed on chain", hash.Hex()))
	}
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("read receipt %s: %w", hash.Hex(), err))
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, &types.StageError{
			Kind:  types.ErrTransactionReverted,
			Stage: types.StatePaying,
			TxID:  hash.Hex(),
			Err:   types.NewRevertedError(fmt.Errorf("recordData reverted in block %s", receipt.BlockNumber)),
		}
	}

	sub := &Submission{TxID: hash.Hex(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		sub.Block = receipt.BlockNumber.Uint64()
	}
	sub.Recorded = c.recordedEvent(receipt)
	return sub, nil
}

func classifySendError(err error) error {
	if types.KindOf(err) != nil {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return types.NewUserRejectedError(err)
	case strings.Contains(msg, "insufficient funds"):
		return types.NewInsufficientFeeError(err)
	default:
		return types.NewNetworkError(err)
	}
}

// WaitForReceipt polls until hash is included or ctx ends. There is no
// timeout beyond ctx.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return WaitForReceipt(ctx, c.reader, hash, c.cfg.PollInterval)
}

// WaitForReceipt polls r for the receipt of hash. Lookup errors other
// than ethereum.NotFound are treated as transient.
func WaitForReceipt(ctx context.Context, r wallet.Reader, hash common.Hash, interval time.Duration) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := r.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) recordedEvent(receipt *gethtypes.Receipt) *types.PublicationRecord {
	ev := c.abi.Events["DataRecorded"]
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.cfg.Address || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		var r record
		if err := c.abi.UnpackIntoInterface(&r, "DataRecorded", l.Data); err != nil {
			continue
		}
		out := r.toDomain()
		return &out
	}
	return nil
}

// RecordCount returns the number of records.
func (c *Client) RecordCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "getRecordCount")
	if err != nil {
		return 0, err
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("record count %s out of range", n)
	}
	return n.Uint64(), nil
}

// FetchRecords returns count records starting at start, in contract order.
func (c *Client) FetchRecords(ctx context.Context, start, count uint64) ([]types.PublicationRecord, error) {
	out, err := c.call(ctx, "fetchData", new(big.Int).SetUint64(start), new(big.Int).SetUint64(count))
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]record)).(*[]record)
	recs := make([]types.PublicationRecord, len(raw))
	for i, r := range raw {
		recs[i] = r.toDomain()
	}
	return recs, nil
}

// Page is one page of records, newest first.
type Page struct {
	Total   uint64                    `json:"total"`
	Page    int                       `json:"page"`
	Size    int                       `json:"size"`
	Records []types.PublicationRecord `json:"records"`
}

// ListRecords fetches every record, orders them by timestamp descending
// and returns the 1-based page.
func (c *Client) ListRecords(ctx context.Context, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	total, err := c.RecordCount(ctx)
	if err != nil {
		return nil, err
	}
	result := &Page{Total: total, Page: page, Size: size, Records: []types.PublicationRecord{}}
	if total == 0 {
		return result, nil
	}
	all, err := c.FetchRecords(ctx, 0, total)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })

	start := (page - 1) * size
	if start >= len(all) {
		return result, nil
	}
	result.Records = all[start:min(start+size, len(all))]
	return result, nil
}
