package checkout

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidAmount is returned for amounts that fail client-side validation.
// It never reaches the network.
var ErrInvalidAmount = errors.New("amount must be a positive integer within the allowed range")

// ProviderTransportError wraps a transport-level failure talking to the
// external payment provider. Retryable: the confirmation state machine stays
// in Confirming and no settlement is attempted.
type ProviderTransportError struct {
	Err error
}

func (e *ProviderTransportError) Error() string {
	return fmt.Sprintf("provider transport failure: %v", e.Err)
}

func (e *ProviderTransportError) Unwrap() error { return e.Err }

// ProviderRejected is terminal for the checkout attempt: the provider
// declined the transaction. No settlement happens and pending state is cleared.
type ProviderRejected struct {
	ProviderTransactionID string
	Status                string
}

func (e *ProviderRejected) Error() string {
	return fmt.Sprintf("provider rejected transaction %s (status %s)", e.ProviderTransactionID, e.Status)
}

// ConfirmationTimedOut indicates the confirm call exceeded its bound. The
// user can retry manually; no settlement was attempted.
type ConfirmationTimedOut struct {
	ProviderTransactionID string
}

func (e *ConfirmationTimedOut) Error() string {
	return fmt.Sprintf("confirmation of provider transaction %s timed out", e.ProviderTransactionID)
}

// SettlementTransportError wraps a transport-level failure talking to the
// wallet ledger. Retryable with the SAME client transaction id; pending
// state is kept so the retry has full redemption/target context.
type SettlementTransportError struct {
	Err error
}

func (e *SettlementTransportError) Error() string {
	return fmt.Sprintf("settlement transport failure: %v", e.Err)
}

func (e *SettlementTransportError) Unwrap() error { return e.Err }

// SettlementRejected is a business failure reported by the ledger backend
// (insufficient balance, stock conflict). Message, when present, is surfaced
// to the user verbatim; otherwise a status-keyed generic text applies.
type SettlementRejected struct {
	StatusCode int
	Message    string
}

func (e *SettlementRejected) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return UserMessageForStatus(e.StatusCode)
}

// InstrumentPersistError is non-fatal: settlement already succeeded when
// instrument tokenization storage failed. Logged, never surfaced as a
// payment failure.
type InstrumentPersistError struct {
	Err error
}

func (e *InstrumentPersistError) Error() string {
	return fmt.Sprintf("failed to persist payment instrument: %v", e.Err)
}

func (e *InstrumentPersistError) Unwrap() error { return e.Err }

// UserMessageForStatus maps ledger HTTP statuses to generic user-facing text
// used when the backend supplies no message of its own.
func UserMessageForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "The payment could not be processed: invalid parameters or insufficient balance"
	case status == http.StatusForbidden:
		return "You are not authorized to perform this payment"
	case status == http.StatusNotFound:
		return "The purchased resource no longer exists"
	case status == http.StatusConflict:
		return "The resource is no longer available in the requested quantity"
	case status >= 500:
		return "The service is temporarily unavailable, please try again"
	default:
		return "The payment could not be processed"
	}
}

// IsRetryable reports whether the error allows a retry with the same
// client transaction id.
func IsRetryable(err error) bool {
	var pt *ProviderTransportError
	var st *SettlementTransportError
	var to *ConfirmationTimedOut
	return errors.As(err, &pt) || errors.As(err, &st) || errors.As(err, &to)
}
