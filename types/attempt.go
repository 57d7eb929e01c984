package types

import (
	"errors"
	"fmt"
)

// AttemptMeta identifies one publish attempt and its lineage.
type AttemptMeta struct {
	// AttemptID is globally unique per attempt.
	AttemptID string
	// Account is the publishing account address.
	Account string
	// ChainID is the registry chain.
	ChainID int64
	// ResumeOf links a resumed upload to the attempt that paid for it.
	ResumeOf *string
	// Attempt starts at 1 and increments on every resume.
	Attempt int
}

// Validate checks lineage rules:
//   - attempt >= 1
//   - attempt == 1 => resume_of must be nil
//   - attempt > 1 => resume_of must be present
func (m *AttemptMeta) Validate() error {
	if m.AttemptID == "" {
		return errors.New("attempt_id must be non-empty")
	}
	if m.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", m.Attempt)
	}
	if m.Attempt == 1 && m.ResumeOf != nil {
		return errors.New("initial attempt must not have resume_of")
	}
	if m.Attempt > 1 && m.ResumeOf == nil {
		return fmt.Errorf("resumed attempt (attempt=%d) must have resume_of", m.Attempt)
	}
	return nil
}

// State is a publication coordinator state.
type State string

const (
	StateIdle        State = "idle"
	StateBundling    State = "bundling"
	StateAddressing  State = "addressing"
	StatePaying      State = "paying"
	StateUploading   State = "uploading"
	StateReconciling State = "reconciling"
	StatePublished   State = "published"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

// Committed reports whether the state is at or after payment, where a
// failure has already spent funds or may have.
func (s State) Committed() bool {
	switch s {
	case StatePaying, StateUploading, StateReconciling, StatePublished:
		return true
	}
	return false
}

// transitions lists the forward edges of the coordinator.
var transitions = map[State][]State{
	StateIdle:        {StateBundling},
	StateBundling:    {StateAddressing, StateIdle},
	StateAddressing:  {StatePaying, StateIdle},
	StatePaying:      {StateUploading, StateFailed, StateIdle},
	StateUploading:   {StateReconciling, StateFailed},
	StateReconciling: {StatePublished, StateFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
