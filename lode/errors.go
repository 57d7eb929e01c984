package lode

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Journal storage failure classes. Match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrAuth         = errors.New("authentication failed")
	ErrDiskFull     = errors.New("no space left on device")
	ErrTimeout      = errors.New("operation timed out")
	ErrThrottled    = errors.New("rate limited")
	ErrUnavailable  = errors.New("storage unavailable")
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps a journal storage failure with its class.
type StorageError struct {
	Kind error
	// Op is append, bundle, scan or init.
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("journal %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("journal %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return errors.Is(e.Kind, target) }

// wrap classifies err for op. Returns nil if err is nil.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// patterns maps message fragments to a class. Order matters: the first
// matching row wins.
var patterns = []struct {
	kind  error
	frags []string
}{
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403", "permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "nosuchkey", "nosuchbucket", "404"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrThrottled, []string{"slowdown", "throttl", "429", "toomanyrequests", "rate exceeded"}},
	{ErrAuth, []string{"nocredentialproviders", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrUnavailable, []string{"connection refused", "no route to host", "network unreachable", "dial tcp", "no such host"}},
}

func classify(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrAccessDenied
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, f := range p.frags {
			if strings.Contains(msg, f) {
				return p.kind
			}
		}
	}
	return ErrUnclassified
}
