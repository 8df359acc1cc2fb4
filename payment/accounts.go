package payment

import "github.com/ruteri/ledger-factory-backend/interfaces"

// CallerSubaccount is the service subaccount dedicated to caller: the length of the
// identity followed by the identity bytes, zero padded.
func CallerSubaccount(caller interfaces.Identity) *[32]byte {
	var sub [32]byte
	sub[0] = byte(len(caller))
	copy(sub[1:], caller[:])
	return &sub
}

// EscrowAccount is the balance ledger account a caller deposits into to attach
// balance to its calls.
func EscrowAccount(service, caller interfaces.Identity) interfaces.Account {
	return interfaces.Account{Owner: service, Subaccount: CallerSubaccount(caller)}
}

// SponsorSpender is the spender a sponsor approves to pay for caller's operations.
// Approvals given to it are only drawn on for calls made by caller.
func SponsorSpender(service, caller interfaces.Identity) interfaces.Account {
	return interfaces.Account{Owner: service, Subaccount: CallerSubaccount(caller)}
}

// Accounts are the payment accounts of one caller.
type Accounts struct {
	Escrow         interfaces.Account `json:"escrow"`
	SponsorSpender interfaces.Account `json:"sponsor_spender"`
}

// AccountsFor returns the payment accounts of caller.
func AccountsFor(service, caller interfaces.Identity) Accounts {
	return Accounts{
		Escrow:         EscrowAccount(service, caller),
		SponsorSpender: SponsorSpender(service, caller),
	}
}
