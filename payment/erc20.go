package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

const erc20ABI = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	// ErrNoTransactOpts is returned when a transfer is attempted without transaction options.
	ErrNoTransactOpts = errors.New("no authorized transactor available")

	// ErrSubaccountsUnsupported is returned for accounts with a subaccount on a token ledger.
	ErrSubaccountsUnsupported = errors.New("token ledger does not support subaccounts")

	parsedERC20ABI = mustParseABI(erc20ABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC-20 ABI: %v", err))
	}
	return parsed
}

// ERC20Ledger collects token payments from an ERC-20 contract the payer approved
// the service on.
type ERC20Ledger struct {
	contract *bind.BoundContract
	backend  bind.DeployBackend
	address  common.Address
	auth     *bind.TransactOpts
}

// NewERC20Ledger creates a client for the token contract at address.
func NewERC20Ledger(client bind.ContractBackend, backend bind.DeployBackend, address common.Address, auth *bind.TransactOpts) *ERC20Ledger {
	return &ERC20Ledger{
		contract: bind.NewBoundContract(address, parsedERC20ABI, client, client, client),
		backend:  backend,
		address:  address,
		auth:     auth,
	}
}

// Allowance returns how much spender may still draw from owner.
func (l *ERC20Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return l.callUint(ctx, "allowance", owner, spender)
}

// BalanceOf returns the token balance of account.
func (l *ERC20Ledger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return l.callUint(ctx, "balanceOf", account)
}

// TransferFrom checks allowance and balance, sends transferFrom and waits until it is mined.
func (l *ERC20Ledger) TransferFrom(ctx context.Context, req interfaces.TransferFromRequest) error {
	if l.auth == nil {
		return ErrNoTransactOpts
	}
	if req.From.Subaccount != nil || req.Spender.Subaccount != nil || req.To.Subaccount != nil {
		return &PaymentError{Kind: UnsupportedMethod, Err: ErrSubaccountsUnsupported}
	}

	from := common.Address(req.From.Owner)
	spender := common.Address(req.Spender.Owner)
	if spender != l.auth.From {
		return fmt.Errorf("spender %s does not match transactor %s", spender, l.auth.From)
	}

	allowance, err := l.Allowance(ctx, from, spender)
	if err != nil {
		return &PaymentError{Kind: LedgerUnavailable, Err: err}
	}
	if allowance.Cmp(req.Amount) < 0 {
		return &PaymentError{Kind: InsufficientAllowance, Required: req.Amount, Available: allowance}
	}

	balance, err := l.BalanceOf(ctx, from)
	if err != nil {
		return &PaymentError{Kind: LedgerUnavailable, Err: err}
	}
	if balance.Cmp(req.Amount) < 0 {
		return &PaymentError{Kind: InsufficientFunds, Required: req.Amount, Available: balance}
	}

	opts := *l.auth
	opts.Context = ctx
	tx, err := l.contract.Transact(&opts, "transferFrom", from, common.Address(req.To.Owner), req.Amount)
	if err != nil {
		return fmt.Errorf("failed to send transferFrom: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, l.backend, tx)
	if err != nil {
		return fmt.Errorf("failed waiting for transferFrom %s: %w", tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transferFrom %s reverted", tx.Hash())
	}
	return nil
}

func (l *ERC20Ledger) callUint(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return value, nil
}

// ERC20LedgerFactory resolves payment ledger handles to ERC-20 contracts.
type ERC20LedgerFactory struct {
	client  bind.ContractBackend
	backend bind.DeployBackend
	auth    *bind.TransactOpts
}

// NewERC20LedgerFactory creates a resolver that signs transfers with auth.
func NewERC20LedgerFactory(client bind.ContractBackend, backend bind.DeployBackend, auth *bind.TransactOpts) *ERC20LedgerFactory {
	return &ERC20LedgerFactory{
		client:  client,
		backend: backend,
		auth:    auth,
	}
}

func (f *ERC20LedgerFactory) LedgerFor(id interfaces.InstanceHandle) (interfaces.Ledger, error) {
	if id.IsZero() {
		return nil, errors.New("payment ledger handle is not set")
	}
	return NewERC20Ledger(f.client, f.backend, common.Address(id), f.auth), nil
}
