package types //nolint:revive // types is a valid package name

import "testing"

func TestAttemptMeta_Validate(t *testing.T) {
	parent := "attempt-parent-001"

	tests := []struct {
		name    string
		meta    AttemptMeta
		wantErr bool
	}{
		{"empty attempt_id", AttemptMeta{Attempt: 1}, true},
		{"attempt zero", AttemptMeta{AttemptID: "a-1", Attempt: 0}, true},
		{"initial with resume_of", AttemptMeta{AttemptID: "a-1", Attempt: 1, ResumeOf: &parent}, true},
		{"resume without resume_of", AttemptMeta{AttemptID: "a-2", Attempt: 2}, true},
		{"valid initial", AttemptMeta{AttemptID: "a-1", Attempt: 1}, false},
		{"valid resume", AttemptMeta{AttemptID: "a-2", Attempt: 2, ResumeOf: &parent}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	happy := []State{StateIdle, StateBundling, StateAddressing, StatePaying, StateUploading, StateReconciling, StatePublished}
	for i := 1; i < len(happy); i++ {
		if !CanTransition(happy[i-1], happy[i]) {
			t.Errorf("expected %s -> %s to be legal", happy[i-1], happy[i])
		}
	}

	illegal := [][2]State{
		{StateIdle, StatePaying},
		{StateAddressing, StateUploading},
		{StateUploading, StateIdle},
		{StateReconciling, StateIdle},
		{StatePublished, StateFailed},
		{StateBundling, StateFailed},
	}
	for _, e := range illegal {
		if CanTransition(e[0], e[1]) {
			t.Errorf("expected %s -> %s to be illegal", e[0], e[1])
		}
	}
}

func TestState_Committed(t *testing.T) {
	for _, s := range []State{StateIdle, StateBundling, StateAddressing} {
		if s.Committed() {
			t.Errorf("%s should not be committed", s)
		}
	}
	for _, s := range []State{StatePaying, StateUploading, StateReconciling} {
		if !s.Committed() {
			t.Errorf("%s should be committed", s)
		}
	}
}
