package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/go-utils/rpcclient"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

const (
	methodTransferFrom = "ledger_transferFrom"
	methodTransfer     = "ledger_transfer"
)

// Error codes of the balance ledger's transfer methods.
const (
	rpcCodeInsufficientAllowance = 1
	rpcCodeInsufficientFunds     = 2
)

// TransferFromParams is the wire form of a ledger_transferFrom call.
type TransferFromParams struct {
	From    interfaces.Account `json:"from"`
	Spender interfaces.Account `json:"spender"`
	To      interfaces.Account `json:"to"`
	Amount  *hexutil.Big       `json:"amount"`
}

// TransferParams is the wire form of a ledger_transfer call.
type TransferParams struct {
	From   interfaces.Account `json:"from"`
	To     interfaces.Account `json:"to"`
	Amount *hexutil.Big       `json:"amount"`
}

// TransferResult is the wire form of a ledger transfer response.
type TransferResult struct {
	BlockIndex hexutil.Uint64 `json:"block_index"`
}

// RPCLedger is the platform's native balance ledger reached over JSON-RPC.
type RPCLedger struct {
	client rpcclient.RPCClient
}

// NewRPCLedger creates a ledger client for endpoint.
func NewRPCLedger(endpoint string) *RPCLedger {
	return &RPCLedger{client: rpcclient.NewClient(endpoint)}
}

func (l *RPCLedger) TransferFrom(ctx context.Context, req interfaces.TransferFromRequest) error {
	var result TransferResult
	err := l.client.CallFor(ctx, &result, methodTransferFrom, TransferFromParams{
		From:    req.From,
		Spender: req.Spender,
		To:      req.To,
		Amount:  (*hexutil.Big)(req.Amount),
	})
	return transferError(err, req.Amount)
}

// Transfer moves funds out of an account owned by the service, such as a caller's
// escrow subaccount.
func (l *RPCLedger) Transfer(ctx context.Context, req interfaces.TransferRequest) error {
	var result TransferResult
	err := l.client.CallFor(ctx, &result, methodTransfer, TransferParams{
		From:   req.From,
		To:     req.To,
		Amount: (*hexutil.Big)(req.Amount),
	})
	return transferError(err, req.Amount)
}

func transferError(err error, amount *big.Int) error {
	if err == nil {
		return nil
	}

	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case rpcCodeInsufficientAllowance:
			return &PaymentError{Kind: InsufficientAllowance, Required: amount, Err: errors.New(rpcErr.Message)}
		case rpcCodeInsufficientFunds:
			return &PaymentError{Kind: InsufficientFunds, Required: amount, Err: errors.New(rpcErr.Message)}
		}
		return fmt.Errorf("transfer rejected: %d - %s", rpcErr.Code, rpcErr.Message)
	}
	return &PaymentError{Kind: LedgerUnavailable, Err: err}
}
