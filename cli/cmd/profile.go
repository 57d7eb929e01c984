package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/types"
)

// ProfileFlags returns the flags describing an agent profile.
func ProfileFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: fmt.Sprintf("Agent name (at most %d characters)", types.MaxNameLength),
		},
		&cli.StringFlag{
			Name:  "intro",
			Usage: fmt.Sprintf("Short functional description (at most %d characters)", types.MaxIntroLength),
		},
		&cli.StringFlag{
			Name:  "behavior",
			Usage: "Behavior prompt seeding every conversation",
		},
		&cli.PathFlag{
			Name:  "behavior-file",
			Usage: "Read the behavior prompt from a file",
		},
		&cli.StringFlag{
			Name:  "ens",
			Usage: "Name service identity owned by the paying account",
		},
		&cli.PathFlag{
			Name:  "avatar",
			Usage: "Avatar image (JPEG or PNG)",
		},
		&cli.StringFlag{
			Name:  "avatar-name",
			Usage: "File name the avatar is published under (default from the image type)",
		},
	}
}

// profileFromFlags reads and validates the profile flags.
func profileFromFlags(c *cli.Context) (types.AgentProfile, error) {
	p := types.AgentProfile{
		Name:       c.String("name"),
		Intro:      c.String("intro"),
		Behavior:   c.String("behavior"),
		Identity:   c.String("ens"),
		AvatarName: c.String("avatar-name"),
	}

	if path := c.Path("behavior-file"); path != "" {
		if p.Behavior != "" {
			return p, types.NewValidationError(errors.New("--behavior and --behavior-file are mutually exclusive"))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return p, types.NewValidationError(fmt.Errorf("read behavior: %w", err))
		}
		p.Behavior = string(data)
	}

	if path := c.Path("avatar"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, types.NewValidationError(fmt.Errorf("read avatar: %w", err))
		}
		p.Avatar = data
		if p.AvatarName == "" {
			p.AvatarName = avatarName(path, p.AvatarContentType())
		}
	}

	return p, p.Validate()
}

// avatarName keeps the file's own extension when it agrees with the image
// type and falls back to the default name otherwise.
func avatarName(path, contentType string) string {
	switch ext := filepath.Ext(path); {
	case contentType == "image/png" && ext == ".png",
		contentType == "image/jpeg" && (ext == ".jpg" || ext == ".jpeg"):
		return "avatar" + ext
	}
	return ""
}
