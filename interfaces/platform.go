package interfaces

import (
	"context"
	"math/big"
)

// InstallMode selects installation semantics on the platform.
type InstallMode int

const (
	// ModeInstall installs code onto an empty instance.
	ModeInstall InstallMode = iota
	// ModeUpgrade replaces code and keeps instance state, applying a partial update.
	ModeUpgrade
)

// String returns mode name.
func (m InstallMode) String() string {
	switch m {
	case ModeInstall:
		return "install"
	case ModeUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// InstanceSettings are the settings a new compute instance is created with.
type InstanceSettings struct {
	// Controllers are the identities allowed to administer the instance.
	Controllers []Identity
}

// InstallArgs describes a code installation on an existing instance.
type InstallArgs struct {
	Handle InstanceHandle
	Mode   InstallMode
	Module []byte
	Arg    []byte
}

// Platform is the management interface of the remote execution platform.
type Platform interface {
	// CreateInstance allocates a compute instance funded with the given amount.
	CreateInstance(ctx context.Context, settings InstanceSettings, funding *big.Int) (InstanceHandle, error)

	// InstallCode installs a code module with encoded init args onto an instance.
	InstallCode(ctx context.Context, args InstallArgs) error
}

// TransferFromRequest moves Amount from an account that authorized Spender.
// A spender with a subaccount only draws on approvals given to that subaccount.
type TransferFromRequest struct {
	From    Account
	Spender Account
	To      Account
	Amount  *big.Int
}

// TransferRequest moves Amount out of an account owned by the sender.
type TransferRequest struct {
	From   Account
	To     Account
	Amount *big.Int
}

// Ledger is a payment ledger supporting pre-authorized deductions.
type Ledger interface {
	TransferFrom(ctx context.Context, req TransferFromRequest) error
}

// LedgerResolver returns a client for the ledger instance with the given handle.
type LedgerResolver interface {
	LedgerFor(id InstanceHandle) (Ledger, error)
}
