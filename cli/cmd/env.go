package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/aipfs/adapter"
	redisadapter "github.com/pithecene-io/aipfs/adapter/redis"
	"github.com/pithecene-io/aipfs/adapter/webhook"
	"github.com/pithecene-io/aipfs/bundle"
	"github.com/pithecene-io/aipfs/cli/config"
	"github.com/pithecene-io/aipfs/ens"
	"github.com/pithecene-io/aipfs/guard"
	"github.com/pithecene-io/aipfs/log"
	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/metrics"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/secret"
	"github.com/pithecene-io/aipfs/storage"
	"github.com/pithecene-io/aipfs/wallet"
)

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("rpc-url") {
		cfg.Network.RPCURL = c.String("rpc-url")
	}
	if c.IsSet("chain-id") {
		cfg.Network.ChainID = c.Int64("chain-id")
	}
	if c.IsSet("registry") {
		cfg.Network.Registry = c.String("registry")
	}
	if c.IsSet("private-key") {
		cfg.Wallet.PrivateKey = c.String("private-key")
	}
	if c.IsSet("journal") {
		cfg.Journal.Path = c.String("journal")
	}
	if c.IsSet("fee") {
		cfg.Network.Fee = c.String("fee")
	}
	if c.IsSet("skip-ownership") {
		cfg.ENS.SkipOwnership = c.Bool("skip-ownership")
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// env holds the collaborators a command opened. Close releases them in
// reverse order.
type env struct {
	cfg       *config.Config
	logger    *log.Logger
	collector *metrics.Collector
	closers   []func() error
}

func newEnv(cfg *config.Config) (*env, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	return &env{
		cfg:       cfg,
		logger:    log.NewLoggerWithWriter(nil, os.Stderr, level),
		collector: metrics.NewCollector(cfg.Journal.Backend),
	}, nil
}

func (e *env) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close releases everything the env opened.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

// chainReader dials the registry chain for reads.
func (e *env) chainReader(ctx context.Context) (wallet.Reader, error) {
	return e.dial(ctx, e.cfg.Network.RPCURL)
}

func (e *env) dial(ctx context.Context, url string) (wallet.Client, error) {
	client, err := wallet.DialRPC(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	e.onClose(func() error { client.Close(); return nil })
	return client, nil
}

// keyWallet opens the signing wallet on the registry chain. Transactions
// are confirmed on the terminal unless yes is set.
func (e *env) keyWallet(ctx context.Context, yes bool) (*wallet.KeyWallet, error) {
	if e.cfg.Wallet.PrivateKey == "" {
		return nil, errors.New("no private key: set wallet.private_key, --private-key or AIPFS_PRIVATE_KEY")
	}
	var confirm wallet.Confirmer
	if !yes {
		confirm = terminalConfirm(os.Stdin, os.Stderr)
	}
	endpoints := e.cfg.Network.Endpoints()
	if _, ok := endpoints[e.cfg.ENS.ChainID]; !ok && e.cfg.ENS.RPCURL != "" {
		endpoints[e.cfg.ENS.ChainID] = e.cfg.ENS.RPCURL
	}
	w, err := wallet.NewKeyWallet(ctx, wallet.Config{
		PrivateKey: e.cfg.Wallet.PrivateKey,
		ChainID:    e.cfg.Network.ChainID,
		Endpoints:  endpoints,
		Confirm:    confirm,
	})
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	e.onClose(w.Close)
	return w, nil
}

// terminalConfirm asks on out and reads the answer from in.
func terminalConfirm(in io.Reader, out io.Writer) wallet.Confirmer {
	scanner := bufio.NewScanner(in)
	return func(_ context.Context, chainID int64, req wallet.TxRequest) (bool, error) {
		fmt.Fprintf(out, "\nSend transaction on chain %d\n  to:    %s\n  value: %s ETH\n  data:  %d bytes\nApprove? [y/N] ",
			chainID, req.To.Hex(), registry.FormatEther(req.Value), len(req.Data))
		if !scanner.Scan() {
			return false, scanner.Err()
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func (e *env) registry(w wallet.Wallet, r wallet.Reader) (*registry.Client, error) {
	if !common.IsHexAddress(e.cfg.Network.Registry) {
		return nil, fmt.Errorf("invalid registry address %q", e.cfg.Network.Registry)
	}
	return registry.New(registry.Config{
		Address:      common.HexToAddress(e.cfg.Network.Registry),
		GasLimit:     e.cfg.Network.GasLimit,
		PollInterval: e.cfg.Network.PollInterval.Duration,
	}, w, r)
}

// ens opens the name service client. Reads use r when the name service
// shares the registry chain, otherwise a dedicated connection.
func (e *env) ens(ctx context.Context, w wallet.Wallet, r wallet.Reader) (*ens.Client, error) {
	n := e.cfg.ENS
	for _, addr := range []string{n.Registry, n.ReverseRecords, n.NameWrapper} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid ens contract address %q", addr)
		}
	}
	if n.ChainID != e.cfg.Network.ChainID || r == nil {
		client, err := e.dial(ctx, n.RPCURL)
		if err != nil {
			return nil, err
		}
		r = client
	}
	cfg := ens.DefaultConfig()
	cfg.ChainID = n.ChainID
	cfg.Registry = common.HexToAddress(n.Registry)
	cfg.ReverseRecords = common.HexToAddress(n.ReverseRecords)
	cfg.NameWrapper = common.HexToAddress(n.NameWrapper)
	cfg.LookupTimeout = n.LookupTimeout.Duration
	cfg.PollInterval = e.cfg.Network.PollInterval.Duration
	return ens.New(cfg, w, r)
}

func (e *env) uploader() (*storage.Uploader, error) {
	s := e.cfg.Storage
	retries := storage.DefaultRetries
	if s.Retries != nil {
		retries = *s.Retries
	}
	return storage.New(storage.Config{
		APIURL:  s.APIURL,
		Headers: s.Headers,
		Timeout: s.Timeout.Duration,
		Retries: retries,
		Backoff: s.Backoff.Duration,
	})
}

func (e *env) builder() *bundle.Builder {
	return &bundle.Builder{
		Gateway:   e.cfg.Storage.Gateway,
		ScriptURL: e.cfg.Page.ScriptURL,
		StyleURL:  e.cfg.Page.StyleURL,
	}
}

// journal opens the attempt journal. The fs backend defaults to
// ~/.aipfs/journal. The returned Journal counts writes in the collector.
func (e *env) journal(ctx context.Context) (*lode.Client, lode.Journal, error) {
	j := e.cfg.Journal
	cfg := lode.Config{Dataset: j.Dataset}

	var (
		client *lode.Client
		err    error
	)
	switch j.Backend {
	case "fs", "":
		path := j.Path
		if path == "" {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return nil, nil, fmt.Errorf("journal path: %w", herr)
			}
			path = filepath.Join(home, ".aipfs", "journal")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("journal path: %w", err)
		}
		client, err = lode.NewFSClient(cfg, path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(j.Path)
		client, err = lode.NewS3Client(ctx, cfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       j.Region,
			Endpoint:     j.Endpoint,
			UsePathStyle: j.S3PathStyle,
		})
	default:
		return nil, nil, fmt.Errorf("unknown journal backend: %s (must be fs or s3)", j.Backend)
	}
	if err != nil {
		return nil, nil, err
	}
	e.onClose(client.Close)
	return client, lode.NewInstrumentedJournal(client, e.collector), nil
}

func (e *env) guard() (guard.Guard, error) {
	g := e.cfg.Guard
	if g.RedisURL == "" {
		return guard.NewLocal(), nil
	}
	r, err := guard.NewRedis(guard.RedisConfig{URL: g.RedisURL, Prefix: g.Prefix, TTL: g.TTL.Duration})
	if err != nil {
		return nil, err
	}
	e.onClose(r.Close)
	return r, nil
}

// notifier builds every configured adapter. Nil when none is configured.
func (e *env) notifier() (adapter.Adapter, error) {
	var out adapter.Fanout
	for _, a := range e.cfg.Notifiers() {
		n, err := newAdapter(a)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, n)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		e.onClose(out[0].Close)
		return out[0], nil
	}
	e.onClose(out.Close)
	return out, nil
}

func newAdapter(a config.AdapterConfig) (adapter.Adapter, error) {
	switch a.Type {
	case "webhook":
		retries := webhook.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		return webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries,
			Secret:  a.Secret,
		})
	case "redis":
		retries := redisadapter.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		return redisadapter.New(redisadapter.Config{
			URL:        a.URL,
			Channel:    a.Channel,
			BacklogKey: a.BacklogKey,
			Backlog:    int64(a.Backlog),
			Timeout:    a.Timeout.Duration,
			Retries:    retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", a.Type)
	}
}

// credential returns the chat key embedded in published pages.
func (e *env) credential() (secret.Credential, error) {
	ch := e.cfg.Chat
	if ch.APIKey != "" {
		return secret.NewCredential(ch.APIKey), nil
	}
	if ch.APIKeyObfuscated != "" {
		cred, err := secret.FromObfuscated(ch.APIKeyObfuscated)
		if err != nil {
			return secret.Credential{}, fmt.Errorf("chat.api_key_obfuscated: %w", err)
		}
		return cred, nil
	}
	return secret.Credential{}, nil
}

// fee parses the configured fee override. Nil reads the registry.
func (e *env) fee() (*big.Int, error) {
	if e.cfg.Network.Fee == "" {
		return nil, nil
	}
	return registry.ParseEther(e.cfg.Network.Fee)
}
