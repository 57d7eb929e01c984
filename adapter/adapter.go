// Package adapter defines the notification boundary for publication
// outcomes.
//
// Adapters tell downstream systems that an agent was published or that a
// paid attempt failed. Delivery is best-effort: a failed notification never
// changes the outcome of the attempt it describes.
package adapter

import (
	"context"
	"errors"
)

// Event types.
const (
	EventAgentPublished    = "agent_published"
	EventPublicationFailed = "publication_failed"
)

// PublicationEvent is the payload published when an attempt ends.
type PublicationEvent struct {
	EventVersion string `json:"event_version"`
	EventType    string `json:"event_type"`
	AttemptID    string `json:"attempt_id"`
	Attempt      int    `json:"attempt"`
	ResumeOf     string `json:"resume_of,omitempty"`
	Account      string `json:"account"`
	ChainID      int64  `json:"chain_id"`
	AgentName    string `json:"agent_name,omitempty"`
	RootCID      string `json:"root_cid,omitempty"`
	AvatarCID    string `json:"avatar_cid,omitempty"`
	TxID         string `json:"tx_id,omitempty"`
	FeeWei       string `json:"fee_wei,omitempty"`
	State        string `json:"state"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Timestamp    string `json:"timestamp"` // ISO 8601
	DurationMs   int64  `json:"duration_ms"`
}

// Adapter publishes publication events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation.
	Publish(ctx context.Context, event *PublicationEvent) error

	// Close releases adapter resources.
	Close() error
}

// Fanout publishes to every adapter and joins their errors.
type Fanout []Adapter

// Publish implements Adapter.
func (f Fanout) Publish(ctx context.Context, event *PublicationEvent) error {
	var errs []error
	for _, a := range f {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Adapter.
func (f Fanout) Close() error {
	var errs []error
	for _, a := range f {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Fanout(nil)
