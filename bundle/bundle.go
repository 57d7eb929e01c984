// Package bundle assembles the file set published for an agent: a generated
// profile page plus the avatar image.
//
// Construction is two-pass. The avatar is addressed first, its gateway URL
// is substituted into the page, and only then is the page itself final.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/secret"
	"github.com/pithecene-io/aipfs/types"
)

// Defaults for the published page.
const (
	DefaultGateway   = "https://ipfs.glitterprotocol.dev/ipfs"
	DefaultScriptURL = "https://aipfs.glitterprotocol.tech/agent/agent.js"
	DefaultStyleURL  = "https://aipfs.glitterprotocol.tech/agent/agent.css"
)

// PageData is the initialization block read by the chat runtime.
type PageData struct {
	Name         string `json:"name"`
	FunctionDesc string `json:"functionDesc"`
	BehaviorDesc string `json:"behaviorDesc"`
	DID          string `json:"did"`
	ID           int64  `json:"id"`
	Avatar       string `json:"avatar"`
	APIKey       string `json:"apiKey"`
}

// Builder builds bundles. The zero value uses the default gateway, runtime
// URLs and wall clock.
type Builder struct {
	// Gateway is the base URL avatar identifiers are resolved against.
	Gateway string
	// ScriptURL is the chat runtime script.
	ScriptURL string
	// StyleURL is the chat runtime stylesheet.
	StyleURL string
	// Now supplies the agent id and bundle name. Defaults to time.Now.
	Now func() time.Time
}

// Result is a built bundle with the identifiers computed along the way.
type Result struct {
	Bundle  types.Bundle
	Avatar  cas.Entry
	AgentID int64
	Page    PageData
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>{{.Title}}</title>
  <link rel="icon" href="{{.AvatarURL}}" type="image/x-icon" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <meta charset="UTF-8">
  <meta name="description" content="{{.Description}}">
  <script>
    window.aiData = {{.Data}};
  </script>
  <script type="module" crossorigin src="{{.ScriptURL}}"></script>
  <link rel="stylesheet" crossorigin href="{{.StyleURL}}">
</head>
<body>
  <div id="root-ai-agent"></div>
</body>
</html>`))

type pageView struct {
	Title       string
	Description string
	AvatarURL   string
	Data        string
	ScriptURL   string
	StyleURL    string
}

func (b *Builder) gateway() string {
	if b.Gateway == "" {
		return DefaultGateway
	}
	return strings.TrimRight(b.Gateway, "/")
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// AvatarURL resolves an identifier against the gateway.
func (b *Builder) AvatarURL(id types.ContentIdentifier) string {
	s := string(id)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return b.gateway() + "/" + s
}

// Build produces the two-entry bundle for profile. The profile is assumed
// validated.
func (b *Builder) Build(profile types.AgentProfile, cred secret.Credential) (*Result, error) {
	avatar, err := cas.AddressFile(profile.Avatar)
	if err != nil {
		return nil, fmt.Errorf("address avatar: %w", err)
	}

	ts := b.now()
	data := PageData{
		Name:         profile.Name,
		FunctionDesc: profile.Intro,
		BehaviorDesc: profile.Behavior,
		DID:          profile.Identity,
		ID:           ts.UnixMilli(),
		Avatar:       b.AvatarURL(avatar.CID),
		APIKey:       cred.Value(),
	}

	page, err := b.render(data)
	if err != nil {
		return nil, types.NewEncodingError(err)
	}

	return &Result{
		Bundle: types.Bundle{
			Name:    fmt.Sprintf("agent_%d", ts.UnixMilli()),
			Created: ts.UnixMilli(),
			Files: []types.FileEntry{
				{Path: types.RootDocument, Data: page},
				{Path: profile.AvatarPath(), Data: profile.Avatar},
			},
		},
		Avatar:  avatar,
		AgentID: data.ID,
		Page:    data,
	}, nil
}

func (b *Builder) render(data PageData) ([]byte, error) {
	// json.Marshal escapes <, > and & so agent text cannot close the script.
	raw, err := json.MarshalIndent(data, "    ", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal page data: %w", err)
	}

	script, style := b.ScriptURL, b.StyleURL
	if script == "" {
		script = DefaultScriptURL
	}
	if style == "" {
		style = DefaultStyleURL
	}

	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, pageView{
		Title:       html.EscapeString(data.Name),
		Description: html.EscapeString(data.FunctionDesc),
		AvatarURL:   html.EscapeString(data.Avatar),
		Data:        string(raw),
		ScriptURL:   html.EscapeString(script),
		StyleURL:    html.EscapeString(style),
	})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}
