package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/cli/render"
	"github.com/pithecene-io/aipfs/publish"
	"github.com/pithecene-io/aipfs/storage"
	"github.com/pithecene-io/aipfs/types"
)

// ResumeCommand returns the resume command. It re-uploads the bundle of a
// paid attempt without paying again.
func ResumeCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), WalletFlags()...)
	flags = append(flags,
		JournalFlag,
		&cli.StringFlag{
			Name:     "tx",
			Usage:    "Confirmed registry transaction of the paid attempt",
			Required: true,
		},
		&cli.PathFlag{
			Name:  "bundle",
			Usage: "Archive written by publish --out or address --out (default: the journaled bundle)",
		},
	)
	return &cli.Command{
		Name:   "resume",
		Usage:  "Resume the upload of a paid publication",
		Flags:  flags,
		Action: resumeAction,
	}
}

func resumeAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
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

	req := publish.ResumeRequest{TxID: c.String("tx")}
	if path := c.Path("bundle"); path != "" {
		b, err := readArchive(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("read archive %s: %v", path, err), publish.ExitCodePrePayment)
		}
		req.Bundle = &b
	}

	p, err := e.pipeline(ctx, c.Bool("yes"))
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Resuming %s", req.TxID)
	res, runErr := runAttempt(ctx, c, e, title, func(ctx context.Context, progress storage.Progress, onState func(types.State)) (*publish.Result, error) {
		req.Progress, req.OnState = progress, onState
		return p.coordinator.Resume(ctx, req)
	})

	if err := r.Render(newPublishResponse(res, runErr)); err != nil {
		return err
	}
	if runErr != nil {
		return cli.Exit(types.UserMessage(runErr), publish.ExitCode(runErr))
	}
	return nil
}
