package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// ConfigSource provides the service configuration.
type ConfigSource interface {
	Get(ctx context.Context) (interfaces.ServiceConfig, error)
}

// BalanceLedger is the platform's native balance ledger. Besides pre-authorized
// deductions it moves funds out of the service's own escrow subaccounts.
type BalanceLedger interface {
	interfaces.Ledger
	Transfer(ctx context.Context, req interfaces.TransferRequest) error
}

// Call describes the request being paid for.
type Call struct {
	Caller interfaces.Identity
}

// Guard deducts operation fees. Deductions are never retried or refunded.
type Guard struct {
	service       interfaces.Identity
	balanceLedger BalanceLedger
	tokenLedgers  interfaces.LedgerResolver
	config        ConfigSource
	log           *slog.Logger
}

// NewGuard creates a guard collecting fees into the service's account. balanceLedger serves
// attached balance and UnitBalance; token ledgers are resolved from the configured payment
// ledger handle.
func NewGuard(service interfaces.Identity, balanceLedger BalanceLedger, tokenLedgers interfaces.LedgerResolver, config ConfigSource, log *slog.Logger) *Guard {
	return &Guard{
		service:       service,
		balanceLedger: balanceLedger,
		tokenLedgers:  tokenLedgers,
		config:        config,
		log:           log,
	}
}

// Accounts returns the payment accounts of caller.
func (g *Guard) Accounts(caller interfaces.Identity) Accounts {
	return AccountsFor(g.service, caller)
}

// Deduct charges fee for call using method. A nil method is AttachedBalance.
// Every denial is a *PaymentError.
func (g *Guard) Deduct(ctx context.Context, call Call, method Method, fee *big.Int) error {
	if method == nil {
		method = AttachedBalance{}
	}

	var err error
	switch m := method.(type) {
	case AttachedBalance:
		err = g.deductAttached(ctx, call, fee)
	case CallerAuthorizes:
		err = g.transferFrom(ctx, m.Unit, interfaces.Account{Owner: call.Caller}, interfaces.Account{Owner: g.service}, fee)
	case SponsorAuthorizes:
		err = g.transferFrom(ctx, m.Unit, m.Sponsor, SponsorSpender(g.service, call.Caller), fee)
	default:
		err = &PaymentError{Kind: UnsupportedMethod, Err: fmt.Errorf("unknown payment method %T", method)}
	}

	if err != nil {
		g.log.Info("Payment denied",
			slog.String("caller", call.Caller.String()),
			slog.String("fee", fee.String()),
			"err", err)
		return err
	}

	g.log.Debug("Payment accepted",
		slog.String("caller", call.Caller.String()),
		slog.String("method", SpecFor(method).Type),
		slog.String("fee", fee.String()))
	return nil
}

// deductAttached moves fee out of the caller's escrow account.
func (g *Guard) deductAttached(ctx context.Context, call Call, fee *big.Int) error {
	if g.balanceLedger == nil {
		return &PaymentError{Kind: UnsupportedMethod, Err: errors.New("no balance ledger configured")}
	}

	err := g.balanceLedger.Transfer(ctx, interfaces.TransferRequest{
		From:   EscrowAccount(g.service, call.Caller),
		To:     interfaces.Account{Owner: g.service},
		Amount: fee,
	})
	if err == nil {
		return nil
	}

	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		if paymentErr.Kind == InsufficientFunds {
			return &PaymentError{Kind: InsufficientAttached, Required: fee, Available: paymentErr.Available, Err: paymentErr.Err}
		}
		return paymentErr
	}
	return &PaymentError{Kind: TransferFailed, Err: err}
}

func (g *Guard) transferFrom(ctx context.Context, unit Unit, from, spender interfaces.Account, fee *big.Int) error {
	ledger, err := g.ledgerFor(ctx, unit)
	if err != nil {
		return err
	}

	err = ledger.TransferFrom(ctx, interfaces.TransferFromRequest{
		From:    from,
		Spender: spender,
		To:      interfaces.Account{Owner: g.service},
		Amount:  fee,
	})
	if err == nil {
		return nil
	}

	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		return paymentErr
	}
	return &PaymentError{Kind: TransferFailed, Err: err}
}

func (g *Guard) ledgerFor(ctx context.Context, unit Unit) (interfaces.Ledger, error) {
	switch unit {
	case UnitBalance:
		if g.balanceLedger == nil {
			return nil, &PaymentError{Kind: UnsupportedMethod, Err: errors.New("no balance ledger configured")}
		}
		return g.balanceLedger, nil
	case UnitToken:
		if g.tokenLedgers == nil {
			return nil, &PaymentError{Kind: UnsupportedMethod, Err: errors.New("no token ledger configured")}
		}
		cfg, err := g.config.Get(ctx)
		if err != nil {
			return nil, &PaymentError{Kind: LedgerUnavailable, Err: err}
		}
		ledger, err := g.tokenLedgers.LedgerFor(cfg.PaymentLedgerID)
		if err != nil {
			return nil, &PaymentError{Kind: LedgerUnavailable, Err: err}
		}
		return ledger, nil
	default:
		return nil, &PaymentError{Kind: UnsupportedMethod, Err: fmt.Errorf("unknown payment unit %d", unit)}
	}
}
