// Package main provides the aipfs CLI entrypoint.
//
// Usage:
//
//	aipfs <command> [options]
//
// Exit codes for `publish` and `resume`:
//   - 0: published
//   - 1: validation or any failure before payment
//   - 2: payment failure
//   - 3: upload failure after payment (resume with --tx)
//   - 4: uploaded root differs from the paid root
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/cli/cmd"
	"github.com/pithecene-io/aipfs/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "aipfs",
		Usage:          "Publish AI agent pages to content-addressed storage and an on-chain registry",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          cmd.GlobalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.PublishCommand(),
			cmd.AddressCommand(),
			cmd.ResumeCommand(),
			cmd.ListCommand(),
			cmd.FeeCommand(),
			cmd.NamesCommand(),
			cmd.BindCommand(),
			cmd.HistoryCommand(),
			cmd.ChatCommand(),
			cmd.VersionCommand("", commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
