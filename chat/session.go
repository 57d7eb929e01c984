package chat

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned by a session after its store closed it.
var ErrClosed = errors.New("chat: session closed")

// Store owns the conversations held with one agent. Sessions are created
// and torn down explicitly.
type Store struct {
	client   Completer
	behavior string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a store whose sessions are primed with behavior as the
// system prompt.
func NewStore(client Completer, behavior string) *Store {
	return &Store{client: client, behavior: behavior, sessions: map[string]*Session{}}
}

// Open returns the session with id, creating it if needed.
func (s *Store) Open(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &Session{id: id, client: s.client, behavior: s.behavior}
	sess.reset()
	s.sessions[id] = sess
	return sess
}

// Close tears down the session with id.
func (s *Store) Close(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
}

// ClearAll empties the history of every session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()
	for _, sess := range all {
		sess.Clear()
	}
}

// CloseAll tears down every session.
func (s *Store) CloseAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = map[string]*Session{}
	s.mu.Unlock()
	for _, sess := range all {
		sess.close()
	}
}

// Session is one conversation. Sends are serialized.
type Session struct {
	id       string
	client   Completer
	behavior string

	mu      sync.Mutex
	history []Message
	closed  bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// reset must be called with mu held or before the session is shared.
func (s *Session) reset() {
	s.history = s.history[:0]
	if s.behavior != "" {
		s.history = append(s.history, Message{Role: RoleSystem, Content: s.behavior})
	}
}

// Send appends message, asks for a reply and records it. A failed call
// leaves the history as it was.
func (s *Session) Send(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	msgs := append(slices.Clip(s.history), Message{Role: RoleUser, Content: message})
	reply, err := s.client.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	s.history = msgs
	if reply != "" {
		s.history = append(s.history, Message{Role: RoleAssistant, Content: reply})
	}
	return reply, nil
}

// History returns the conversation without the system prompt.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.history))
	for _, m := range s.history {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Clear drops every turn, keeping the system prompt.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.history = nil
}
