package publish

import (
	"errors"

	"github.com/pithecene-io/aipfs/types"
)

// Exit codes for a finished attempt.
const (
	ExitCodePublished  = 0 // published
	ExitCodePrePayment = 1 // validation or any failure before paying
	ExitCodePayment    = 2 // failure while paying
	ExitCodeUpload     = 3 // upload failure after payment; resumable
	ExitCodeMismatch   = 4 // uploaded root differs from the paid root
)

// ExitCode maps the error of an attempt to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodePublished
	}
	if errors.Is(err, types.ErrReconciliationMismatch) {
		return ExitCodeMismatch
	}

	var se *types.StageError
	if !errors.As(err, &se) {
		return ExitCodePrePayment
	}
	switch se.Stage {
	case types.StatePaying:
		return ExitCodePayment
	case types.StateUploading, types.StateReconciling:
		return ExitCodeUpload
	default:
		return ExitCodePrePayment
	}
}
