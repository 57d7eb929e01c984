package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/cli/reader"
	"github.com/pithecene-io/aipfs/cli/render"
	"github.com/pithecene-io/aipfs/lode"
)

// HistoryCommand returns the history command. It reads the attempt
// journal: a list of attempts by default, one attempt with --attempt, or
// counts with --stats.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show journaled publication attempts",
		Flags: append(ReadOnlyFlags(),
			JournalFlag,
			&cli.StringFlag{
				Name:  "attempt",
				Usage: "Inspect one attempt by id",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Count attempts by outcome",
			},
			&cli.StringFlag{
				Name:  "account",
				Usage: "Only attempts of this account",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by latest state: published, failed, idle, or an in-flight state",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of attempts to return (0 = no limit)",
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.IsSet("attempt") && c.Bool("stats") {
		return cli.Exit("--attempt and --stats are mutually exclusive", 1)
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

	journal, _, err := e.journal(ctx)
	if err != nil {
		return err
	}
	rd := reader.New(journal, nil, cfg.Network.ChainID)

	var (
		view string
		data any
	)
	switch {
	case c.IsSet("attempt"):
		view = "inspect_attempt"
		data, err = rd.InspectAttempt(ctx, c.String("attempt"))
		if errors.Is(err, lode.ErrNoAttempt) {
			return cli.Exit(fmt.Sprintf("attempt not found: %s", c.String("attempt")), 1)
		}
	case c.Bool("stats"):
		view = "stats_attempts"
		data, err = rd.StatsAttempts(ctx, c.String("account"))
	default:
		view = "list_attempts"
		opts := reader.ListAttemptsOptions{
			Account: c.String("account"),
			State:   c.String("state"),
			Limit:   c.Int("limit"),
		}
		var items []reader.ListAttemptItem
		items, err = rd.ListAttempts(ctx, opts)
		if err == nil && len(items) > listWarningThreshold && opts.Limit == 0 && isStderrTTY() {
			fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(items))
		}
		data = items
	}
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(view, data)
	}
	return r.Render(data)
}
