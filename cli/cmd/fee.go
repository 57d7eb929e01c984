package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/cli/reader"
	"github.com/pithecene-io/aipfs/cli/render"
)

// FeeCommand returns the fee command.
func FeeCommand() *cli.Command {
	return &cli.Command{
		Name:   "fee",
		Usage:  "Show the registry's current publication fee",
		Flags:  append(ReadOnlyFlags(), ChainFlags()...),
		Action: feeAction,
	}
}

func feeAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for fee command", 1)
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

	rd, err := e.chainReader(ctx)
	if err != nil {
		return err
	}
	reg, err := e.registry(nil, rd)
	if err != nil {
		return err
	}

	resp, err := reader.New(nil, reg, cfg.Network.ChainID).Fee(ctx)
	if err != nil {
		return err
	}
	return r.Render(resp)
}
