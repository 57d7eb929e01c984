package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/archive"
	"github.com/pithecene-io/aipfs/cli/render"
	"github.com/pithecene-io/aipfs/cli/tui"
	"github.com/pithecene-io/aipfs/ens"
	"github.com/pithecene-io/aipfs/publish"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/storage"
	"github.com/pithecene-io/aipfs/types"
)

// PublishResponse reports a finished publish or resume attempt.
type PublishResponse struct {
	AttemptID string   `json:"attempt_id,omitempty"`
	State     string   `json:"state"`
	Trace     []string `json:"trace"`
	ChainID   int64    `json:"chain_id"`
	TxID      string   `json:"tx_id,omitempty"`
	Root      string   `json:"root_cid,omitempty"`
	Avatar    string   `json:"avatar_cid,omitempty"`
	Fee       string   `json:"fee,omitempty"`
	Size      int64    `json:"size,omitempty"`
	Bundle    string   `json:"bundle,omitempty"`
	Duration  string   `json:"duration"`
	BindTxID  string   `json:"bind_tx_id,omitempty"`
	Archive   string   `json:"archive,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Error     string   `json:"error,omitempty"`
	Hint      string   `json:"hint,omitempty"`
}

func newPublishResponse(res *publish.Result, err error) PublishResponse {
	resp := PublishResponse{
		State:    string(res.State),
		TxID:     res.TxID,
		Root:     res.Root.String(),
		Avatar:   res.Avatar.String(),
		Duration: res.Duration.Round(time.Millisecond).String(),
	}
	for _, s := range res.Trace {
		resp.Trace = append(resp.Trace, string(s))
	}
	if res.Meta != nil {
		resp.AttemptID = res.Meta.AttemptID
		resp.ChainID = res.Meta.ChainID
	}
	if res.Bundle != nil {
		resp.Bundle = res.Bundle.Name
	}
	if p := res.Publication; p != nil {
		resp.ChainID = p.ChainID
		resp.Fee = registry.FormatEther(p.Fee) + " ETH"
		resp.Size = p.Size
		resp.Bundle = p.Bundle
	}
	if err != nil {
		if kind := types.KindOf(err); kind != nil {
			resp.ErrorKind = kind.Error()
		}
		resp.Error = err.Error()
		resp.Hint = types.UserMessage(err)
	}
	return resp
}

// PublishCommand returns the publish command.
func PublishCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), WalletFlags()...)
	flags = append(flags, ProfileFlags()...)
	flags = append(flags,
		JournalFlag,
		&cli.StringFlag{
			Name:  "fee",
			Usage: "Fee in ETH to pay instead of the registry's current fee",
		},
		&cli.BoolFlag{
			Name:  "skip-ownership",
			Usage: "Do not check that the paying account owns the --ens name",
		},
		&cli.BoolFlag{
			Name:  "bind",
			Usage: "Point the --ens name's contenthash at the published root",
		},
		&cli.PathFlag{
			Name:  "out",
			Usage: "Write the built bundle to an archive file",
		},
	)
	return &cli.Command{
		Name:   "publish",
		Usage:  "Build, pay for and upload an agent page",
		Flags:  flags,
		Action: publishAction,
	}
}

func publishAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	profile, err := profileFromFlags(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s\n%v", types.UserMessage(err), err), publish.ExitCode(err))
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.pipeline(ctx, c.Bool("yes"))
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Publishing %s", profile.Name)
	res, runErr := runAttempt(ctx, c, e, title, func(ctx context.Context, progress storage.Progress, onState func(types.State)) (*publish.Result, error) {
		return p.coordinator.Publish(ctx, publish.Request{Profile: profile, Progress: progress, OnState: onState})
	})
	resp := newPublishResponse(res, runErr)

	if out := c.Path("out"); out != "" && res.Bundle != nil {
		if err := writeArchive(out, *res.Bundle); err != nil {
			e.logger.Warn("archive not written", map[string]any{"path": out, "error": err.Error()})
		} else {
			resp.Archive = out
		}
	}

	var bindErr error
	if runErr == nil && c.Bool("bind") {
		resp.BindTxID, bindErr = bind(ctx, e, p.names, profile.Identity, res.Publication.Root)
	}

	if err := r.Render(resp); err != nil {
		return err
	}
	if runErr != nil {
		return cli.Exit(types.UserMessage(runErr), publish.ExitCode(runErr))
	}
	if bindErr != nil {
		return cli.Exit(fmt.Sprintf("published, but binding %s failed: %v", profile.Identity, bindErr), 1)
	}
	return nil
}

// pipeline holds the collaborators of a paying command.
type pipeline struct {
	coordinator *publish.Coordinator
	names       *ens.Client
}

// pipeline opens the wallet and every collaborator of the coordinator.
func (e *env) pipeline(ctx context.Context, yes bool) (*pipeline, error) {
	w, err := e.keyWallet(ctx, yes)
	if err != nil {
		return nil, err
	}
	reg, err := e.registry(w, w)
	if err != nil {
		return nil, err
	}
	up, err := e.uploader()
	if err != nil {
		return nil, err
	}
	e.onClose(up.Close)
	history, journal, err := e.journal(ctx)
	if err != nil {
		return nil, err
	}
	g, err := e.guard()
	if err != nil {
		return nil, err
	}
	notifier, err := e.notifier()
	if err != nil {
		return nil, err
	}
	names, err := e.ens(ctx, w, w)
	if err != nil {
		return nil, err
	}
	fee, err := e.fee()
	if err != nil {
		return nil, fmt.Errorf("network.fee: %w", err)
	}
	cred, err := e.credential()
	if err != nil {
		return nil, err
	}

	deps := publish.Deps{
		Wallet:    w,
		Registry:  reg,
		Uploader:  up,
		Builder:   e.builder(),
		Guard:     g,
		Journal:   journal,
		History:   history,
		Notifier:  notifier,
		Collector: e.collector,
		Logger:    e.logger,
	}
	if !e.cfg.ENS.SkipOwnership {
		deps.Owners = names
	}
	co, err := publish.New(publish.Config{
		ChainID:       e.cfg.Network.ChainID,
		Fee:           fee,
		UploadTimeout: e.cfg.Storage.UploadTimeout.Duration,
		Credential:    cred,
	}, deps)
	if err != nil {
		return nil, err
	}
	return &pipeline{coordinator: co, names: names}, nil
}

type attemptFunc func(ctx context.Context, progress storage.Progress, onState func(types.State)) (*publish.Result, error)

// runAttempt runs work in the publish view when --tui is set and stdout is
// a terminal, and with log lines otherwise. The result is never nil.
func runAttempt(ctx context.Context, c *cli.Context, e *env, title string, work attemptFunc) (*publish.Result, error) {
	var (
		res *publish.Result
		err error
	)
	if c.Bool("tui") && render.IsTTY(os.Stdout) {
		_, err = tui.RunPublishTUI(ctx, title, func(ctx context.Context, rep tui.Reporter) (*types.Publication, error) {
			var werr error
			res, werr = work(ctx, rep.Progress, rep.State)
			if res == nil {
				return nil, werr
			}
			return res.Publication, werr
		})
	} else {
		sugar := e.logger.Sugar()
		sugar.Infof("%s", title)
		res, err = work(ctx, progressLogger(e), func(s types.State) {
			sugar.Infof("state: %s", s)
		})
	}
	if res == nil {
		res = &publish.Result{State: types.StateIdle, Trace: []types.State{types.StateIdle}, Err: err}
	}
	return res, err
}

// progressLogger logs upload progress in quarter steps.
func progressLogger(e *env) storage.Progress {
	next := 25
	return func(percent int) {
		for percent >= next && next <= 100 {
			e.logger.Info("upload progress", map[string]any{"percent": next})
			next += 25
		}
	}
}

func writeArchive(path string, b types.Bundle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := archive.Write(f, b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readArchive(path string) (types.Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Bundle{}, err
	}
	defer f.Close()
	return archive.Read(f)
}

// normalizedName normalizes an identity name for the name service.
func normalizedName(name string) (string, error) {
	norm, err := ens.Normalize(name)
	if err != nil {
		return "", types.NewValidationError(err)
	}
	if !strings.Contains(norm, ".") {
		return "", types.NewValidationError(errors.New("name must include a top-level domain"))
	}
	return norm, nil
}

// bind points name at root and waits for the transaction.
func bind(ctx context.Context, e *env, names *ens.Client, name string, root types.ContentIdentifier) (string, error) {
	norm, err := normalizedName(name)
	if err != nil {
		return "", err
	}
	e.logger.Info("binding name", map[string]any{"name": norm, "root": root.String()})
	tx, err := names.BindContent(ctx, norm, root)
	if err != nil {
		return "", err
	}
	e.logger.Info("name bound", map[string]any{"name": norm, "tx_id": tx})
	return tx, nil
}
