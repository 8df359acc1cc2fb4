package payment

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeParams accepts both a bare object and a single-element array.
func decodeParams(raw json.RawMessage, out any) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return json.Unmarshal(arr[0], out)
	}
	return json.Unmarshal(raw, out)
}

func newLedgerServer(t *testing.T, handle func(method string, params json.RawMessage) (any, *rpcErrorBody)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCLedger(t *testing.T) {
	var (
		gotTransfer     TransferParams
		gotTransferFrom TransferFromParams
	)
	escrowFunds := big.NewInt(150)

	srv := newLedgerServer(t, func(method string, params json.RawMessage) (any, *rpcErrorBody) {
		switch method {
		case methodTransfer:
			require.NoError(t, decodeParams(params, &gotTransfer))
			if gotTransfer.Amount.ToInt().Cmp(escrowFunds) > 0 {
				return nil, &rpcErrorBody{Code: rpcCodeInsufficientFunds, Message: "insufficient funds"}
			}
			return TransferResult{BlockIndex: 7}, nil
		case methodTransferFrom:
			require.NoError(t, decodeParams(params, &gotTransferFrom))
			return nil, &rpcErrorBody{Code: rpcCodeInsufficientAllowance, Message: "allowance exhausted"}
		}
		return nil, &rpcErrorBody{Code: -32601, Message: "method not found"}
	})
	defer srv.Close()

	ledger := NewRPCLedger(srv.URL)
	g := newGuard(ledger, nil)
	ctx := context.Background()

	t.Run("attached balance draws on the escrow account", func(t *testing.T) {
		require.NoError(t, g.Deduct(ctx, Call{Caller: caller}, AttachedBalance{}, big.NewInt(100)))
		assert.Equal(t, EscrowAccount(service, caller), gotTransfer.From)
		assert.Equal(t, owner(service), gotTransfer.To)
		assert.Equal(t, big.NewInt(100), gotTransfer.Amount.ToInt())
	})

	t.Run("short escrow is insufficient attached balance", func(t *testing.T) {
		err := g.Deduct(ctx, Call{Caller: caller}, AttachedBalance{}, big.NewInt(200))
		var paymentErr *PaymentError
		require.True(t, errors.As(err, &paymentErr))
		assert.Equal(t, InsufficientAttached, paymentErr.Kind)
		assert.Equal(t, big.NewInt(200), paymentErr.Required)
	})

	t.Run("sponsor spender carries the caller", func(t *testing.T) {
		method := SponsorAuthorizes{Unit: UnitBalance, Sponsor: owner(sponsor)}
		err := g.Deduct(ctx, Call{Caller: caller}, method, big.NewInt(100))
		var paymentErr *PaymentError
		require.True(t, errors.As(err, &paymentErr))
		assert.Equal(t, InsufficientAllowance, paymentErr.Kind)
		assert.Equal(t, owner(sponsor), gotTransferFrom.From)
		assert.Equal(t, SponsorSpender(service, caller), gotTransferFrom.Spender)
	})
}
