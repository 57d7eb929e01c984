package cmd

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/cli/render"
	"github.com/pithecene-io/aipfs/types"
	"github.com/pithecene-io/aipfs/wallet"
)

// NamesResponse lists the name service names an account controls.
type NamesResponse struct {
	Account string   `json:"account"`
	ChainID int64    `json:"chain_id"`
	Names   []string `json:"names"`
}

// BindResponse reports a contenthash update.
type BindResponse struct {
	Name    string `json:"name"`
	Root    string `json:"root_cid"`
	ChainID int64  `json:"chain_id"`
	TxID    string `json:"tx_id"`
}

// NamesCommand returns the names command.
func NamesCommand() *cli.Command {
	return &cli.Command{
		Name:  "names",
		Usage: "List name service names usable as an agent identity",
		Flags: append(ReadOnlyFlags(),
			PrivateKeyFlag,
			&cli.StringFlag{
				Name:  "account",
				Usage: "Account to look up (default: the --private-key account)",
			},
			&cli.StringSliceFlag{
				Name:  "candidate",
				Usage: "Extra name to check for ownership (repeatable)",
			},
		),
		Action: namesAction,
	}
}

func namesAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for names command", 1)
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

	account, err := lookupAccount(c.String("account"), cfg.Wallet.PrivateKey)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	names, err := e.ens(ctx, nil, nil)
	if err != nil {
		return err
	}
	candidates := append(append([]string{}, cfg.ENS.Names...), c.StringSlice("candidate")...)
	owned, err := names.OwnedNames(ctx, account, candidates...)
	if err != nil {
		return err
	}
	return r.Render(NamesResponse{
		Account: account.Hex(),
		ChainID: cfg.ENS.ChainID,
		Names:   owned,
	})
}

// lookupAccount resolves an explicit address or the account of key.
func lookupAccount(address, key string) (common.Address, error) {
	if address != "" {
		if !common.IsHexAddress(address) {
			return common.Address{}, fmt.Errorf("invalid account address %q", address)
		}
		return common.HexToAddress(address), nil
	}
	if key == "" {
		return common.Address{}, errors.New("set --account or a private key")
	}
	_, addr, err := wallet.ParsePrivateKey(key)
	return addr, err
}

// BindCommand returns the bind command.
func BindCommand() *cli.Command {
	return &cli.Command{
		Name:  "bind",
		Usage: "Point a name's contenthash at a published agent page",
		Flags: append(append(ReadOnlyFlags(), WalletFlags()...),
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Name to update",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "root",
				Usage:    "Root content identifier of the published page",
				Required: true,
			},
		),
		Action: bindAction,
	}
}

func bindAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for bind command", 1)
	}

	root := types.ContentIdentifier(c.String("root"))
	if _, err := cas.Parse(root.String()); err != nil {
		return cli.Exit(fmt.Sprintf("invalid --root: %v", err), 1)
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

	w, err := e.keyWallet(ctx, c.Bool("yes"))
	if err != nil {
		return err
	}
	names, err := e.ens(ctx, w, nil)
	if err != nil {
		return err
	}

	tx, err := bind(ctx, e, names, c.String("name"), root)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s\n%v", types.UserMessage(err), err), 1)
	}
	norm, _ := normalizedName(c.String("name"))
	return r.Render(BindResponse{Name: norm, Root: root.String(), ChainID: cfg.ENS.ChainID, TxID: tx})
}
