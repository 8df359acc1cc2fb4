// Package interfaces defines the core types and contracts of the ledger factory.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Identity is the 20-byte address of a caller, derived from its secp256k1 public key.
// The zero value is the anonymous identity.
type Identity [20]byte

// AnonymousIdentity is the identity of an unauthenticated caller.
var AnonymousIdentity Identity

// NewIdentityFromBytes creates an identity from a 20-byte slice.
func NewIdentityFromBytes(b []byte) (Identity, error) {
	if len(b) != 20 {
		return Identity{}, errors.New("invalid identity length: must be 20 bytes")
	}

	var id Identity
	copy(id[:], b)
	return id, nil
}

// NewIdentityFromHex parses a 40-character hex string, with or without 0x prefix.
func NewIdentityFromHex(s string) (Identity, error) {
	b, err := decodeHex20(s)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid identity: %w", err)
	}
	return Identity(b), nil
}

// String returns the 0x-prefixed hex representation of the identity.
func (id Identity) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns the raw 20-byte identity.
func (id Identity) Bytes() []byte {
	return id[:]
}

// IsAnonymous reports whether this is the anonymous identity.
func (id Identity) IsAnonymous() bool {
	return id == AnonymousIdentity
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// InstanceHandle is the platform-wide unique identifier of a compute instance.
type InstanceHandle [20]byte

// NewInstanceHandleFromBytes creates a handle from a 20-byte slice.
func NewInstanceHandleFromBytes(b []byte) (InstanceHandle, error) {
	if len(b) != 20 {
		return InstanceHandle{}, errors.New("invalid instance handle length: must be 20 bytes")
	}

	var h InstanceHandle
	copy(h[:], b)
	return h, nil
}

// NewInstanceHandleFromHex parses a 40-character hex string, with or without 0x prefix.
func NewInstanceHandleFromHex(s string) (InstanceHandle, error) {
	b, err := decodeHex20(s)
	if err != nil {
		return InstanceHandle{}, fmt.Errorf("invalid instance handle: %w", err)
	}
	return InstanceHandle(b), nil
}

// String returns the 0x-prefixed hex representation of the handle.
func (h InstanceHandle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns the raw 20-byte handle.
func (h InstanceHandle) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the handle is unset.
func (h InstanceHandle) IsZero() bool {
	return h == InstanceHandle{}
}

func (h InstanceHandle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *InstanceHandle) UnmarshalText(text []byte) error {
	parsed, err := NewInstanceHandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func decodeHex20(s string) ([20]byte, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 40 {
		return [20]byte{}, errors.New("hex string must be 40 characters")
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var res [20]byte
	copy(res[:], b)
	return res, nil
}

// Account is an owner identity with an optional 32-byte subaccount.
type Account struct {
	Owner      Identity  `json:"owner" cbor:"owner"`
	Subaccount *[32]byte `json:"subaccount,omitempty" cbor:"subaccount,omitempty"`
}

// InstanceKind is the kind of service a provisioned instance runs.
type InstanceKind int

const (
	// KindLedger is a token ledger instance.
	KindLedger InstanceKind = iota
	// KindIndex is an index instance serving a ledger's history.
	KindIndex
)

// AllInstanceKinds lists every supported kind.
var AllInstanceKinds = []InstanceKind{KindLedger, KindIndex}

// String returns kind name.
func (k InstanceKind) String() string {
	switch k {
	case KindLedger:
		return "ledger"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// ParseInstanceKind converts a kind name into an InstanceKind.
func ParseInstanceKind(s string) (InstanceKind, error) {
	switch strings.ToLower(s) {
	case "ledger":
		return KindLedger, nil
	case "index":
		return KindIndex, nil
	default:
		return 0, fmt.Errorf("unsupported instance kind: %q", s)
	}
}

func (k InstanceKind) MarshalText() ([]byte, error) {
	if k != KindLedger && k != KindIndex {
		return nil, fmt.Errorf("unsupported instance kind: %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *InstanceKind) UnmarshalText(text []byte) error {
	parsed, err := ParseInstanceKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ProvisionedInstance is a registry record of an instance a client has provisioned.
// Installed is false between allocation and a successful code install.
type ProvisionedInstance struct {
	Handle    InstanceHandle `json:"handle" cbor:"handle"`
	Kind      InstanceKind   `json:"kind" cbor:"kind"`
	Installed bool           `json:"installed" cbor:"installed"`
}

// ServiceConfig is the persisted service configuration.
type ServiceConfig struct {
	// PaymentLedgerID is the ledger trusted for payments authorized by callers or sponsors.
	PaymentLedgerID InstanceHandle `json:"payment_ledger_id" cbor:"payment_ledger_id"`
}
