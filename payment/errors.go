package payment

import (
	"fmt"
	"math/big"
)

// ErrorKind classifies an admission denial.
type ErrorKind string

const (
	InsufficientAttached  ErrorKind = "InsufficientAttached"
	InsufficientAllowance ErrorKind = "InsufficientAllowance"
	InsufficientFunds     ErrorKind = "InsufficientFunds"
	UnsupportedMethod     ErrorKind = "UnsupportedMethod"
	LedgerUnavailable     ErrorKind = "LedgerUnavailable"
	TransferFailed        ErrorKind = "TransferFailed"
)

// PaymentError is returned for every denied admission.
type PaymentError struct {
	Kind      ErrorKind
	Required  *big.Int
	Available *big.Int
	Err       error
}

func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("payment denied: %s", e.Kind)
	if e.Required != nil && e.Available != nil {
		msg += fmt.Sprintf(" (required %s, available %s)", e.Required, e.Available)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
