package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/cli/reader"
	"github.com/pithecene-io/aipfs/cli/render"
)

// listWarningThreshold is the page size above which we warn about large
// registry reads.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command. It pages through the registry,
// newest record first.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List published agents from the registry",
		Flags: append(append(ReadOnlyFlags(), ChainFlags()...),
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page number, starting at 1",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Records per page",
				Value: 10,
			},
		),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	page, size := c.Int("page"), c.Int("page-size")
	if page < 1 || size < 1 {
		return cli.Exit("--page and --page-size must be positive", 1)
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

	if size > listWarningThreshold && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: reading %d records per page. Consider a smaller --page-size.\n\n", size)
	}

	resp, err := reader.New(nil, reg, cfg.Network.ChainID).ListRecords(ctx, page, size)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("list_records", resp)
	}
	return r.Render(resp)
}
