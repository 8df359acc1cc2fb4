package provisioning

import (
	"errors"
	"fmt"

	"github.com/ruteri/ledger-factory-backend/fetch"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/ruteri/ledger-factory-backend/state"
)

var (
	// ErrNoCodeStored is returned when no code module is configured for the requested kind.
	ErrNoCodeStored = errors.New("no code module stored")

	// ErrUnauthorized is returned when the caller lacks the identity or privilege an operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// AllocationFailedError is returned when the platform refused to create an instance.
type AllocationFailedError struct {
	Err error
}

func (e *AllocationFailedError) Error() string {
	return fmt.Sprintf("allocation failed: %v", e.Err)
}

func (e *AllocationFailedError) Unwrap() error {
	return e.Err
}

// InitArgsEncodingError is returned when an install payload could not be encoded.
type InitArgsEncodingError struct {
	Err error
}

func (e *InitArgsEncodingError) Error() string {
	return fmt.Sprintf("Failed to encode init args: %v", e.Err)
}

func (e *InitArgsEncodingError) Unwrap() error {
	return e.Err
}

// InstallFailedError is returned when the platform refused to install code on an instance.
type InstallFailedError struct {
	Handle interfaces.InstanceHandle
	Err    error
}

func (e *InstallFailedError) Error() string {
	return fmt.Sprintf("code installation on %s failed: %v", e.Handle, e.Err)
}

func (e *InstallFailedError) Unwrap() error {
	return e.Err
}

// Error kinds reported to clients.
const (
	KindNoCodeStored           = "NoCodeStored"
	KindAllocationFailed       = "AllocationFailed"
	KindInitArgsEncodingFailed = "InitArgsEncodingFailed"
	KindInstallFailed          = "WasmInstallationFailed"
	KindPaymentError           = "PaymentError"
	KindFetchFailed            = "FetchFailed"
	KindRegistryFull           = "RegistryFull"
	KindUnauthorized           = "Unauthorized"
	KindBadRequest             = "BadRequest"
	KindInternal               = "Internal"
)

// ErrorKind classifies err for clients.
func ErrorKind(err error) string {
	var (
		allocErr   *AllocationFailedError
		encErr     *InitArgsEncodingError
		installErr *InstallFailedError
		paymentErr *payment.PaymentError
		fetchErr   *fetch.Error
		statusErr  *fetch.StatusError
	)

	switch {
	case errors.Is(err, ErrNoCodeStored):
		return KindNoCodeStored
	case errors.As(err, &allocErr):
		return KindAllocationFailed
	case errors.As(err, &encErr):
		return KindInitArgsEncodingFailed
	case errors.As(err, &installErr):
		return KindInstallFailed
	case errors.As(err, &paymentErr):
		return KindPaymentError
	case errors.As(err, &fetchErr), errors.As(err, &statusErr):
		return KindFetchFailed
	case errors.Is(err, state.ErrRegistryFull):
		return KindRegistryFull
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidRequest):
		return KindBadRequest
	default:
		return KindInternal
	}
}
