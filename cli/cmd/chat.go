package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/aipfs/bundle"
	"github.com/pithecene-io/aipfs/chat"
	"github.com/pithecene-io/aipfs/cli/tui"
	"github.com/pithecene-io/aipfs/secret"
	"github.com/pithecene-io/aipfs/types"
)

// maxPageBytes bounds a fetched agent page.
const maxPageBytes = 1 << 20

// ChatCommand returns the chat command.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to a published agent, or to a profile before publishing it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "root",
				Usage: "Root content identifier of a published agent page",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "URL of a published agent page",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Agent name, when chatting with a local profile",
			},
			&cli.StringFlag{
				Name:  "behavior",
				Usage: "Behavior prompt, when chatting with a local profile",
			},
			&cli.PathFlag{
				Name:  "behavior-file",
				Usage: "Read the behavior prompt from a file",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Chat model (overrides chat.model)",
			},
		},
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("model") {
		cfg.Chat.Model = c.String("model")
	}
	e, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	agent, err := e.chatAgent(ctx, c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cred := agent.credential
	if cred.Empty() {
		if cred, err = e.credential(); err != nil {
			return err
		}
	}
	if cred.Empty() {
		return cli.Exit("no chat api key: set chat.api_key or chat.api_key_obfuscated", 1)
	}

	ch := cfg.Chat
	ccfg := chat.Config{
		BaseURL:   ch.BaseURL,
		Model:     ch.Model,
		APIKey:    cred,
		Referer:   ch.Referer,
		Title:     ch.Title,
		MaxTokens: ch.MaxTokens,
		Timeout:   ch.Timeout.Duration,
	}
	if ch.Temperature != nil {
		ccfg.Temperature = *ch.Temperature
	}
	client, err := chat.NewOpenAIClient(ccfg)
	if err != nil {
		return err
	}

	store := chat.NewStore(client, agent.behavior)
	defer store.CloseAll()

	return repl(ctx, c.App.Reader, c.App.Writer, agent.name, store.Open(uuid.NewString()))
}

type chatAgent struct {
	name       string
	behavior   string
	credential secret.Credential
}

// chatAgent resolves the agent from a published page or the profile flags.
func (e *env) chatAgent(ctx context.Context, c *cli.Context) (*chatAgent, error) {
	url := c.String("url")
	if root := c.String("root"); root != "" {
		if url != "" {
			return nil, errors.New("--root and --url are mutually exclusive")
		}
		url = e.builder().AvatarURL(types.ContentIdentifier(root)) + "/" + types.RootDocument
	}

	if url == "" {
		name := c.String("name")
		if name == "" {
			return nil, errors.New("set --root, --url, or --name with --behavior")
		}
		behavior := c.String("behavior")
		if path := c.Path("behavior-file"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read behavior: %w", err)
			}
			behavior = string(data)
		}
		return &chatAgent{name: name, behavior: behavior}, nil
	}

	e.logger.Info("fetching agent page", map[string]any{"url": url})
	page, err := fetchPage(ctx, url, e.cfg.Chat.Timeout.Duration)
	if err != nil {
		return nil, err
	}
	agent := &chatAgent{name: page.Name, behavior: page.BehaviorDesc}
	if page.APIKey != "" {
		agent.credential = secret.NewCredential(page.APIKey)
	}
	return agent, nil
}

// fetchPage downloads a published page and reads its agent data block.
func fetchPage(ctx context.Context, url string, timeout time.Duration) (*bundle.PageData, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("fetch page: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("read page: %w", err))
	}
	return bundle.ParsePage(doc)
}

// repl reads one message per line. /clear resets the conversation,
// /history prints it and /exit ends the session.
func repl(ctx context.Context, in io.Reader, out io.Writer, name string, sess *chat.Session) error {
	fmt.Fprintln(out, tui.TitleStyle.Render("Chatting with "+name))
	fmt.Fprintln(out, tui.HelpStyle.MarginTop(0).Render("/clear resets, /history prints the conversation, /exit quits"))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPageBytes)
	for {
		fmt.Fprint(out, tui.LabelStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			sess.Clear()
			fmt.Fprintln(out, tui.HelpStyle.MarginTop(0).Render("conversation cleared"))
			continue
		case "/history":
			for _, m := range sess.History() {
				fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
			}
			continue
		}

		reply, err := sess.Send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, tui.ErrorStyle.Render(err.Error()))
			continue
		}
		fmt.Fprintf(out, "%s %s\n", tui.ValueStyle.Render(name+">"), reply)
	}
}
