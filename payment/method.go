// Package payment implements the admission guard that deducts a fee before any
// paid operation reaches the platform.
package payment

import (
	"fmt"
	"math/big"

	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// Unit selects which ledger a pre-authorized payment is drawn from.
type Unit int

const (
	// UnitBalance draws from the platform's native balance ledger.
	UnitBalance Unit = iota
	// UnitToken draws from the token ledger named in the service configuration.
	UnitToken
)

func (u Unit) String() string {
	switch u {
	case UnitBalance:
		return "balance"
	case UnitToken:
		return "token"
	default:
		return "unknown"
	}
}

// Method is how a caller pays for an operation. The set of methods is closed:
// AttachedBalance, CallerAuthorizes and SponsorAuthorizes.
type Method interface {
	isMethod()
}

// AttachedBalance pays from the balance the caller deposited into its escrow
// account on the balance ledger.
type AttachedBalance struct{}

// CallerAuthorizes pays from the caller's account, which has approved the service as spender.
type CallerAuthorizes struct {
	Unit Unit
}

// SponsorAuthorizes pays from a sponsor's account, which has approved the caller's
// SponsorSpender account.
type SponsorAuthorizes struct {
	Unit    Unit
	Sponsor interfaces.Account
}

func (AttachedBalance) isMethod()   {}
func (CallerAuthorizes) isMethod()  {}
func (SponsorAuthorizes) isMethod() {}

// Operation is a paid operation.
type Operation int

const (
	OpCreateLedger Operation = iota
	OpCreateIndex
)

func (op Operation) String() string {
	switch op {
	case OpCreateLedger:
		return "CreateIcrcLedger"
	case OpCreateIndex:
		return "CreateIcrcIndex"
	default:
		return "unknown"
	}
}

var fees = map[Operation]*big.Int{
	OpCreateLedger: big.NewInt(1_100_000_000_000),
	OpCreateIndex:  big.NewInt(1_100_000_000_000),
}

// Fee returns the fee charged for op.
func Fee(op Operation) *big.Int {
	fee, ok := fees[op]
	if !ok {
		panic(fmt.Sprintf("no fee defined for operation %d", op))
	}
	return new(big.Int).Set(fee)
}

// MethodSpec is the JSON form of a Method.
type MethodSpec struct {
	Type    string              `json:"type"`
	Unit    string              `json:"unit,omitempty"`
	Sponsor *interfaces.Account `json:"sponsor,omitempty"`
}

// Method converts the spec into a Method. A nil spec is AttachedBalance.
func (s *MethodSpec) Method() (Method, error) {
	if s == nil {
		return AttachedBalance{}, nil
	}

	switch s.Type {
	case "", "attached_balance":
		return AttachedBalance{}, nil
	case "caller_authorizes":
		unit, err := parseUnit(s.Unit)
		if err != nil {
			return nil, err
		}
		return CallerAuthorizes{Unit: unit}, nil
	case "sponsor_authorizes":
		unit, err := parseUnit(s.Unit)
		if err != nil {
			return nil, err
		}
		if s.Sponsor == nil {
			return nil, fmt.Errorf("sponsor_authorizes payment requires a sponsor account")
		}
		return SponsorAuthorizes{Unit: unit, Sponsor: *s.Sponsor}, nil
	default:
		return nil, fmt.Errorf("unsupported payment method type: %q", s.Type)
	}
}

// SpecFor returns the JSON form of m.
func SpecFor(m Method) *MethodSpec {
	switch m := m.(type) {
	case CallerAuthorizes:
		return &MethodSpec{Type: "caller_authorizes", Unit: m.Unit.String()}
	case SponsorAuthorizes:
		sponsor := m.Sponsor
		return &MethodSpec{Type: "sponsor_authorizes", Unit: m.Unit.String(), Sponsor: &sponsor}
	default:
		return &MethodSpec{Type: "attached_balance"}
	}
}

func parseUnit(s string) (Unit, error) {
	switch s {
	case "", "balance":
		return UnitBalance, nil
	case "token":
		return UnitToken, nil
	default:
		return 0, fmt.Errorf("unsupported payment unit: %q", s)
	}
}
