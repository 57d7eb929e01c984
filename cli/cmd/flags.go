// Package cmd provides CLI commands for the aipfs binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// ConfigFlag points at an aipfs.yaml. Set on the app, read by every command.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to aipfs.yaml (default ./aipfs.yaml when present)",
		EnvVars: []string{"AIPFS_CONFIG"},
	}

	// LogLevelFlag overrides log.level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode",
	}

	// RPCFlag overrides network.rpc_url.
	RPCFlag = &cli.StringFlag{
		Name:  "rpc-url",
		Usage: "JSON-RPC endpoint of the registry chain",
	}

	// ChainFlag overrides network.chain_id.
	ChainFlag = &cli.Int64Flag{
		Name:  "chain-id",
		Usage: "Registry chain id",
	}

	// RegistryFlag overrides network.registry.
	RegistryFlag = &cli.StringFlag{
		Name:  "registry",
		Usage: "Registry contract address",
	}

	// PrivateKeyFlag overrides wallet.private_key.
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "Hex private key of the paying account",
		EnvVars: []string{"AIPFS_PRIVATE_KEY"},
	}

	// YesFlag approves transactions without prompting.
	YesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Approve transactions without prompting",
	}

	// JournalFlag overrides journal.path.
	JournalFlag = &cli.StringFlag{
		Name:  "journal",
		Usage: "Journal location (fs: directory, s3: bucket/prefix)",
	}
)

// GlobalFlags returns the flags registered on the app.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
	}
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ChainFlags returns the flags selecting the registry chain.
func ChainFlags() []cli.Flag {
	return []cli.Flag{
		RPCFlag,
		ChainFlag,
		RegistryFlag,
	}
}

// WalletFlags returns the flags of commands that send transactions.
func WalletFlags() []cli.Flag {
	return append(ChainFlags(), PrivateKeyFlag, YesFlag)
}
