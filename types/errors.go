package types

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying pipeline failures.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrValidation indicates bad profile input, caught before the pipeline starts.
	ErrValidation = errors.New("validation failed")

	// ErrEncoding indicates a bundle that cannot be addressed (path collision, bad path).
	ErrEncoding = errors.New("encoding error")

	// ErrEmptyBundle indicates a bundle with zero entries.
	ErrEmptyBundle = errors.New("empty bundle")

	// ErrPublishInProgress indicates another attempt for the account holds the payment claim.
	ErrPublishInProgress = errors.New("publish already in progress")

	// ErrWrongChain indicates the wallet is on another chain and refused to switch.
	ErrWrongChain = errors.New("wrong chain")

	// ErrInsufficientFee indicates the fee could not be read or does not match the payment.
	ErrInsufficientFee = errors.New("insufficient fee")

	// ErrUserRejected indicates the signing prompt was dismissed.
	ErrUserRejected = errors.New("user rejected request")

	// ErrTransactionReverted indicates the chain included the call but it reverted.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrUploadRejected indicates the storage backend returned no entry for the root.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrNetwork indicates a transport failure or timeout.
	ErrNetwork = errors.New("network error")

	// ErrReconciliationMismatch indicates uploaded content differs from what was paid for.
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
)

// StageError annotates a failure with the pipeline stage it happened in
// and the identifiers already committed at that point.
type StageError struct {
	// Kind is the sentinel for classification (e.g., ErrNetwork).
	Kind error
	// Stage is the coordinator state the failure happened in.
	Stage State
	// TxID is the confirmed registry transaction, if any.
	TxID string
	// ChainID is the registry chain, if known.
	ChainID int64
	// Expected is the locally computed root identifier, if any.
	Expected ContentIdentifier
	// Got is the identifier returned by the storage backend, if any.
	Got ContentIdentifier
	// Err is the underlying error.
	Err error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.TxID != "" {
		msg += " (tx " + e.TxID + ")"
	}
	if e.Expected != "" || e.Got != "" {
		msg += fmt.Sprintf(" expected=%s got=%s", e.Expected, e.Got)
	}
	if e.Err != nil && !errors.Is(e.Kind, e.Err) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// KindError is a classified error without stage context. Leaf packages
// return these; the coordinator re-wraps them into a StageError.
type KindError struct {
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *KindError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *KindError) Is(target error) bool { return errors.Is(e.Kind, target) }

func newKind(kind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// NewValidationError classifies err as a profile validation failure.
func NewValidationError(err error) error { return newKind(ErrValidation, err) }

// NewEncodingError classifies err as a bundle encoding failure.
func NewEncodingError(err error) error { return newKind(ErrEncoding, err) }

// NewInsufficientFeeError classifies err as a fee read or fee mismatch failure.
func NewInsufficientFeeError(err error) error { return newKind(ErrInsufficientFee, err) }

// NewWrongChainError classifies err as a refused chain switch.
func NewWrongChainError(err error) error { return newKind(ErrWrongChain, err) }

// NewUserRejectedError classifies err as a dismissed signing prompt.
func NewUserRejectedError(err error) error { return newKind(ErrUserRejected, err) }

// NewRevertedError classifies err as a reverted transaction.
func NewRevertedError(err error) error { return newKind(ErrTransactionReverted, err) }

// NewUploadRejectedError classifies err as a rejected upload.
func NewUploadRejectedError(err error) error { return newKind(ErrUploadRejected, err) }

// NewNetworkError classifies err as a transport failure.
func NewNetworkError(err error) error { return newKind(ErrNetwork, err) }

// KindOf returns the classification sentinel of err, or nil when err is
// not classified.
func KindOf(err error) error {
	for _, k := range []error{
		ErrReconciliationMismatch,
		ErrValidation,
		ErrEncoding,
		ErrEmptyBundle,
		ErrPublishInProgress,
		ErrWrongChain,
		ErrInsufficientFee,
		ErrUserRejected,
		ErrTransactionReverted,
		ErrUploadRejected,
		ErrNetwork,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether retrying the failed stage with identical
// inputs is safe. A payment that may have been sent never qualifies.
func Retryable(err error) bool {
	if stageOf(err) == StatePaying && TxIDOf(err) != "" {
		return false
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrUploadRejected)
}

// TxIDOf extracts the committed transaction id from err, if any.
func TxIDOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.TxID
	}
	return ""
}

func stageOf(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// UserMessage maps err to one short actionable message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	tx := TxIDOf(err)
	switch KindOf(err) {
	case ErrValidation:
		return "Please check the agent details and try again."
	case ErrEncoding, ErrEmptyBundle:
		return "The agent files could not be packaged. Check the file names and try again."
	case ErrPublishInProgress:
		return "A publication for this account is already in progress. Wait for it to finish."
	case ErrWrongChain:
		return "Switch your wallet to the registry network and try again."
	case ErrInsufficientFee:
		return "The publication fee could not be confirmed. Refresh the fee and try again."
	case ErrUserRejected:
		return "The transaction was cancelled in the wallet. Publish again when ready."
	case ErrTransactionReverted:
		return "The registry transaction failed on-chain. Gas may have been spent; try again."
	case ErrUploadRejected, ErrNetwork:
		switch stageOf(err) {
		case StateUploading, StateReconciling:
			if tx != "" {
				return fmt.Sprintf("Upload failed after payment. Resume the upload with transaction %s.", tx)
			}
			return "Upload failed, please try again."
		case StatePaying:
			if tx != "" {
				return fmt.Sprintf("Transaction %s was sent but not confirmed. Once it confirms, resume the upload with it.", tx)
			}
		}
		if errors.Is(err, ErrUploadRejected) {
			return "Upload failed, please try again."
		}
		return "Network error, please try again."
	case ErrReconciliationMismatch:
		return fmt.Sprintf("Uploaded content does not match the registry record. Contact support with transaction %s.", tx)
	default:
		return "Something went wrong, please try again."
	}
}
