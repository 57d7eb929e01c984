package adapter

import (
	"context"
	"errors"
	"testing"
)

type recorder struct {
	events []*PublicationEvent
	err    error
	closed bool
}

func (r *recorder) Publish(_ context.Context, e *PublicationEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("down")}
	f := Fanout{failing, ok}

	err := f.Publish(t.Context(), &PublicationEvent{EventType: EventAgentPublished})
	if err == nil || err.Error() != "down" {
		t.Errorf("err = %v, want down", err)
	}
	if len(ok.events) != 1 {
		t.Error("later adapter skipped after failure")
	}
	if err := f.Close(); err != nil || !ok.closed || !failing.closed {
		t.Errorf("Close = %v", err)
	}
}
