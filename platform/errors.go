// Package platform implements clients of the remote platform that hosts ledger
// and index instances.
package platform

import (
	"errors"
	"fmt"

	"github.com/flashbots/go-utils/rpcclient"
)

// Error codes reported by the platform.
const (
	CodeUnknown           = 0
	CodeInstanceNotFound  = 3
	CodeInsufficientFunds = 4
	CodeInvalidMode       = 5
	CodeInvalidArgument   = 6
)

// Error is a rejected platform call.
type Error struct {
	Op      string
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Failed to %s: %d - %s", e.Op, e.Code, e.Message)
}

// asPlatformError converts a transport or JSON-RPC error into an *Error.
func asPlatformError(op string, err error) error {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		return &Error{Op: op, Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return &Error{Op: op, Code: CodeUnknown, Message: err.Error()}
}
