// Package types defines the domain types shared by the publication pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Profile field limits.
const (
	MaxNameLength   = 50
	MaxIntroLength  = 150
	MaxAvatarBytes  = 1 << 20
	RootDocument    = "index.html"
	DefaultAvatarFn = "avatar.png"
)

// AgentProfile is the user-supplied description of an agent.
// It is treated as immutable once handed to the pipeline.
type AgentProfile struct {
	// Name is the display name (at most 50 characters).
	Name string
	// Intro is the short functional description (at most 150 characters).
	Intro string
	// Behavior is the system prompt the chat widget seeds conversations with.
	Behavior string
	// Identity is a name-service name owned by the publishing account.
	Identity string
	// AvatarName is the file name the avatar is published under.
	AvatarName string
	// Avatar is the raw JPEG or PNG image.
	Avatar []byte
}

// AvatarContentType sniffs the avatar bytes.
func (p *AgentProfile) AvatarContentType() string {
	return http.DetectContentType(p.Avatar)
}

// Validate checks the field rules that do not need network access.
// Identity ownership is checked separately by the coordinator.
func (p *AgentProfile) Validate() error {
	var errs []error

	switch n := utf8.RuneCountInString(strings.TrimSpace(p.Name)); {
	case n == 0:
		errs = append(errs, errors.New("name is required"))
	case utf8.RuneCountInString(p.Name) > MaxNameLength:
		errs = append(errs, fmt.Errorf("name cannot exceed %d characters", MaxNameLength))
	}

	switch n := utf8.RuneCountInString(strings.TrimSpace(p.Intro)); {
	case n == 0:
		errs = append(errs, errors.New("intro is required"))
	case utf8.RuneCountInString(p.Intro) > MaxIntroLength:
		errs = append(errs, fmt.Errorf("intro cannot exceed %d characters", MaxIntroLength))
	}

	if strings.TrimSpace(p.Behavior) == "" {
		errs = append(errs, errors.New("behavior prompt is required"))
	}
	if strings.TrimSpace(p.Identity) == "" {
		errs = append(errs, errors.New("identity name is required"))
	}

	switch {
	case len(p.Avatar) == 0:
		errs = append(errs, errors.New("avatar is required"))
	case len(p.Avatar) >= MaxAvatarBytes:
		errs = append(errs, errors.New("avatar must be smaller than 1MB"))
	default:
		ct := p.AvatarContentType()
		if ct != "image/jpeg" && ct != "image/png" {
			errs = append(errs, fmt.Errorf("avatar must be JPEG or PNG, got %s", ct))
		}
	}

	if p.AvatarName != "" && (strings.ContainsAny(p.AvatarName, `/\`) || p.AvatarName == RootDocument) {
		errs = append(errs, fmt.Errorf("invalid avatar file name %q", p.AvatarName))
	}

	if len(errs) > 0 {
		return NewValidationError(errors.Join(errs...))
	}
	return nil
}

// AvatarPath returns the bundle path of the avatar file.
func (p *AgentProfile) AvatarPath() string {
	if p.AvatarName != "" {
		return p.AvatarName
	}
	if p.AvatarContentType() == "image/jpeg" {
		return "avatar.jpg"
	}
	return DefaultAvatarFn
}

// FileEntry is one file of a bundle.
type FileEntry struct {
	// Path is relative to the bundle directory, using '/' separators.
	Path string `msgpack:"path" json:"path"`
	// Data is the file content.
	Data []byte `msgpack:"data" json:"-"`
}

// Bundle is a directory of files addressed and uploaded as one unit.
type Bundle struct {
	// Name is the directory name the bundle is uploaded under.
	Name string `msgpack:"name" json:"name"`
	// Created is the build time in unix milliseconds.
	Created int64 `msgpack:"created" json:"created"`
	// Files are the entries in insertion order.
	Files []FileEntry `msgpack:"files" json:"files"`
}

// Size returns the total byte length of all entries.
func (b *Bundle) Size() int64 {
	var n int64
	for _, f := range b.Files {
		n += int64(len(f.Data))
	}
	return n
}

// Lookup returns the entry at path.
func (b *Bundle) Lookup(path string) (FileEntry, bool) {
	for _, f := range b.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// ContentIdentifier is a content address in its canonical string form.
type ContentIdentifier string

func (c ContentIdentifier) String() string { return string(c) }
