package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/bundle"
	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/cli/render"
	"github.com/pithecene-io/aipfs/publish"
	"github.com/pithecene-io/aipfs/secret"
	"github.com/pithecene-io/aipfs/types"
)

// AddressResponse is the locally computed address of an agent bundle.
type AddressResponse struct {
	Bundle  string           `json:"bundle"`
	Root    string           `json:"root_cid"`
	Avatar  string           `json:"avatar_cid"`
	AgentID int64            `json:"agent_id"`
	Size    int64            `json:"size"`
	Files   []AddressedEntry `json:"files"`
	Archive string           `json:"archive,omitempty"`
}

// AddressedEntry is one addressed file of the bundle.
type AddressedEntry struct {
	Path string `json:"path"`
	CID  string `json:"cid"`
	Size uint64 `json:"size"`
}

// AddressCommand returns the address command. It builds and addresses a
// bundle without paying or uploading.
func AddressCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), ProfileFlags()...)
	flags = append(flags, &cli.PathFlag{
		Name:  "out",
		Usage: "Write the built bundle to an archive file",
	})
	return &cli.Command{
		Name:   "address",
		Usage:  "Compute the content address an agent page would be published under",
		Flags:  flags,
		Action: addressAction,
	}
}

func addressAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for address command", 1)
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

	cred, err := e.credential()
	if err != nil {
		return err
	}
	resp, b, err := addressProfile(e.builder(), profile, cred)
	if err != nil {
		return cli.Exit(types.UserMessage(err), publish.ExitCode(err))
	}

	if out := c.Path("out"); out != "" {
		if err := writeArchive(out, b); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		resp.Archive = out
	}
	return r.Render(resp)
}

// addressProfile builds the bundle of profile and addresses every file.
func addressProfile(builder *bundle.Builder, profile types.AgentProfile, cred secret.Credential) (*AddressResponse, types.Bundle, error) {
	built, err := builder.Build(profile, cred)
	if err != nil {
		return nil, types.Bundle{}, err
	}
	addr, err := cas.AddressBundle(built.Bundle)
	if err != nil {
		return nil, types.Bundle{}, err
	}

	resp := &AddressResponse{
		Bundle:  built.Bundle.Name,
		Root:    addr.Root.CID.String(),
		Avatar:  built.Avatar.CID.String(),
		AgentID: built.AgentID,
		Size:    built.Bundle.Size(),
	}
	for _, f := range built.Bundle.Files {
		entry := addr.Paths[f.Path]
		resp.Files = append(resp.Files, AddressedEntry{Path: f.Path, CID: entry.CID.String(), Size: entry.Size})
	}
	return resp, built.Bundle, nil
}
