package payment

import (
	"context"
	"math/big"
	"sync"

	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// StaticResolver resolves every handle to a fixed set of ledgers.
type StaticResolver map[interfaces.InstanceHandle]interfaces.Ledger

func (r StaticResolver) LedgerFor(id interfaces.InstanceHandle) (interfaces.Ledger, error) {
	ledger, ok := r[id]
	if !ok {
		return nil, &PaymentError{Kind: LedgerUnavailable}
	}
	return ledger, nil
}

// accountKey identifies an account; a nil subaccount is the zero subaccount.
type accountKey struct {
	owner      interfaces.Identity
	subaccount [32]byte
}

func keyOf(account interfaces.Account) accountKey {
	key := accountKey{owner: account.Owner}
	if account.Subaccount != nil {
		key.subaccount = *account.Subaccount
	}
	return key
}

// MemoryLedger is an in-memory ledger with balances and allowances, used in tests
// and local development.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[accountKey]*big.Int
	allowances map[[2]accountKey]*big.Int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[accountKey]*big.Int),
		allowances: make(map[[2]accountKey]*big.Int),
	}
}

// Mint credits account.
func (l *MemoryLedger) Mint(account interfaces.Account, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := keyOf(account)
	l.balances[key] = new(big.Int).Add(l.balanceLocked(key), amount)
}

// Approve lets spender draw amount from owner.
func (l *MemoryLedger) Approve(owner, spender interfaces.Account, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[[2]accountKey{keyOf(owner), keyOf(spender)}] = new(big.Int).Set(amount)
}

// BalanceOf returns the balance of account.
func (l *MemoryLedger) BalanceOf(account interfaces.Account) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(keyOf(account)))
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, req interfaces.TransferFromRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := [2]accountKey{keyOf(req.From), keyOf(req.Spender)}
	allowance, ok := l.allowances[key]
	if !ok {
		allowance = new(big.Int)
	}
	if allowance.Cmp(req.Amount) < 0 {
		return &PaymentError{Kind: InsufficientAllowance, Required: req.Amount, Available: new(big.Int).Set(allowance)}
	}

	if err := l.moveLocked(keyOf(req.From), keyOf(req.To), req.Amount); err != nil {
		return err
	}
	l.allowances[key] = new(big.Int).Sub(allowance, req.Amount)
	return nil
}

// Transfer moves funds between accounts. The sender is trusted to own From.
func (l *MemoryLedger) Transfer(ctx context.Context, req interfaces.TransferRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(keyOf(req.From), keyOf(req.To), req.Amount)
}

func (l *MemoryLedger) moveLocked(from, to accountKey, amount *big.Int) error {
	balance := l.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return &PaymentError{Kind: InsufficientFunds, Required: amount, Available: new(big.Int).Set(balance)}
	}
	l.balances[from] = new(big.Int).Sub(balance, amount)
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *MemoryLedger) balanceLocked(key accountKey) *big.Int {
	if b, ok := l.balances[key]; ok {
		return b
	}
	return new(big.Int)
}
