// Package secret handles the chat credential embedded in published pages.
//
// Published pages carry the credential in an obfuscated form: XOR with a
// fixed key, URI-component escaped, then base64. This is not encryption;
// it only keeps the raw key out of casual view.
package secret

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// obfuscationKey is shared with the page runtime that reveals the key.
const obfuscationKey = "glitter-protocol"

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Credential is an API key that never prints itself.
type Credential struct {
	value string
}

// NewCredential wraps a plain key.
func NewCredential(v string) Credential { return Credential{value: v} }

// FromObfuscated reveals an obfuscated key.
func FromObfuscated(s string) (Credential, error) {
	v, err := Reveal(s)
	if err != nil {
		return Credential{}, err
	}
	return Credential{value: v}, nil
}

// Value returns the plain key.
func (c Credential) Value() string { return c.value }

// Empty reports whether no key is set.
func (c Credential) Empty() bool { return c.value == "" }

// String redacts the key.
func (c Credential) String() string {
	if c.value == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString redacts the key in %#v output.
func (c Credential) GoString() string { return c.String() }

// MarshalText redacts the key when serialized by loggers.
func (c Credential) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func xorRunes(s string) string {
	var b strings.Builder
	i := 0
	for _, r := range s {
		b.WriteRune(r ^ rune(obfuscationKey[i%len(obfuscationKey)]))
		i++
	}
	return b.String()
}

// Obfuscate encodes a plain key for embedding in a page.
func Obfuscate(plain string) string {
	return base64.StdEncoding.EncodeToString([]byte(escapeComponent(xorRunes(plain))))
}

// Reveal decodes an obfuscated key.
func Reveal(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	if !base64Pattern.MatchString(encoded) {
		return "", errors.New("reveal credential: invalid base64 format")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("reveal credential: %w", err)
	}
	unescaped, err := url.PathUnescape(string(raw))
	if err != nil {
		return "", fmt.Errorf("reveal credential: %w", err)
	}
	if !utf8.ValidString(unescaped) {
		return "", errors.New("reveal credential: invalid utf-8")
	}
	return xorRunes(unescaped), nil
}

// escapeComponent percent-encodes everything except the URI component
// unreserved set A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func escapeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
