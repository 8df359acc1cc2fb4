package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/metrics"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/ruteri/ledger-factory-backend/state"
)

// Admission charges fees before paid operations.
type Admission interface {
	Deduct(ctx context.Context, call payment.Call, method payment.Method, fee *big.Int) error
	Accounts(caller interfaces.Identity) payment.Accounts
}

// ConfigReader returns the service configuration.
type ConfigReader interface {
	Get(ctx context.Context) (interfaces.ServiceConfig, error)
}

// ModuleStore manages the stored code modules.
type ModuleStore interface {
	ModuleSource
	Set(ctx context.Context, kind interfaces.InstanceKind, data []byte) error
	FetchAndSet(ctx context.Context, kind interfaces.InstanceKind, url string) (int, error)
	Info(ctx context.Context, kind interfaces.InstanceKind) (*state.ModuleInfo, error)
}

// Service implements the client-facing operations of the factory, including
// their access checks.
type Service struct {
	pipeline    *Pipeline
	admission   Admission
	config      ConfigReader
	modules     ModuleStore
	registry    InstanceRegistry
	controllers map[interfaces.Identity]struct{}
	log         *slog.Logger
}

// NewService creates the service. controllers are the identities allowed to manage code modules.
func NewService(pipeline *Pipeline, admission Admission, config ConfigReader, modules ModuleStore, registry InstanceRegistry, controllers []interfaces.Identity, log *slog.Logger) *Service {
	set := make(map[interfaces.Identity]struct{}, len(controllers))
	for _, c := range controllers {
		set[c] = struct{}{}
	}

	return &Service{
		pipeline:    pipeline,
		admission:   admission,
		config:      config,
		modules:     modules,
		registry:    registry,
		controllers: set,
		log:         log,
	}
}

// IsController reports whether id may manage code modules.
func (s *Service) IsController(id interfaces.Identity) bool {
	_, ok := s.controllers[id]
	return ok
}

func (s *Service) requireAuthenticated(caller interfaces.Identity) error {
	if caller.IsAnonymous() {
		return fmt.Errorf("%w: anonymous caller", ErrUnauthorized)
	}
	return nil
}

func (s *Service) requireController(caller interfaces.Identity) error {
	if err := s.requireAuthenticated(caller); err != nil {
		return err
	}
	if !s.IsController(caller) {
		return fmt.Errorf("%w: %s is not a controller", ErrUnauthorized, caller)
	}
	return nil
}

// CreateLedger charges the ledger fee and provisions a ledger for the caller.
func (s *Service) CreateLedger(ctx context.Context, call payment.Call, overrides initargs.LedgerOverrides, method payment.Method) (interfaces.InstanceHandle, error) {
	if err := s.requireAuthenticated(call.Caller); err != nil {
		return interfaces.InstanceHandle{}, err
	}
	if err := s.admit(ctx, call, method, payment.OpCreateLedger); err != nil {
		return interfaces.InstanceHandle{}, err
	}

	return s.pipeline.Provision(ctx, ProvisionRequest{
		Kind:   interfaces.KindLedger,
		Payer:  call.Caller,
		Ledger: overrides,
	})
}

// CreateIndex charges the index fee and provisions an index following ledgerID.
func (s *Service) CreateIndex(ctx context.Context, call payment.Call, ledgerID interfaces.InstanceHandle, method payment.Method) (interfaces.InstanceHandle, error) {
	if err := s.requireAuthenticated(call.Caller); err != nil {
		return interfaces.InstanceHandle{}, err
	}
	if ledgerID.IsZero() {
		return interfaces.InstanceHandle{}, fmt.Errorf("%w: ledger id is required", ErrInvalidRequest)
	}
	if err := s.admit(ctx, call, method, payment.OpCreateIndex); err != nil {
		return interfaces.InstanceHandle{}, err
	}

	return s.pipeline.Provision(ctx, ProvisionRequest{
		Kind:     interfaces.KindIndex,
		Payer:    call.Caller,
		LedgerID: ledgerID,
	})
}

func (s *Service) admit(ctx context.Context, call payment.Call, method payment.Method, op payment.Operation) error {
	err := s.admission.Deduct(ctx, call, method, payment.Fee(op))
	if err == nil {
		return nil
	}

	reason := "unknown"
	var paymentErr *payment.PaymentError
	if errors.As(err, &paymentErr) {
		reason = string(paymentErr.Kind)
	}
	metrics.PaymentDenied.WithLabelValues(reason).Inc()
	return err
}

// PaymentAccounts returns the escrow account the caller deposits attached balance into
// and the spender its sponsors approve.
func (s *Service) PaymentAccounts(ctx context.Context, caller interfaces.Identity) (payment.Accounts, error) {
	if err := s.requireAuthenticated(caller); err != nil {
		return payment.Accounts{}, err
	}
	return s.admission.Accounts(caller), nil
}

// SetIndexOnLedger points a running ledger at its index.
func (s *Service) SetIndexOnLedger(ctx context.Context, caller interfaces.Identity, ledgerID, indexID interfaces.InstanceHandle) error {
	if err := s.requireAuthenticated(caller); err != nil {
		return err
	}
	return s.pipeline.Reconfigure(ctx, ledgerID, LedgerFieldUpdate{IndexID: &indexID})
}

// SetLedgerSymbol changes the token symbol of a running ledger.
func (s *Service) SetLedgerSymbol(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, symbol string) error {
	if err := s.requireAuthenticated(caller); err != nil {
		return err
	}
	return s.pipeline.Reconfigure(ctx, ledgerID, LedgerFieldUpdate{Symbol: &symbol})
}

// SetLedgerName changes the token name of a running ledger.
func (s *Service) SetLedgerName(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, name string) error {
	if err := s.requireAuthenticated(caller); err != nil {
		return err
	}
	return s.pipeline.Reconfigure(ctx, ledgerID, LedgerFieldUpdate{Name: &name})
}

// UpgradeLedger applies an arbitrary partial update to a running ledger. Controllers only.
func (s *Service) UpgradeLedger(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error {
	if err := s.requireController(caller); err != nil {
		return err
	}
	return s.pipeline.UpgradeLedger(ctx, ledgerID, params)
}

// SetCodeModule replaces the stored module of kind. Controllers only.
func (s *Service) SetCodeModule(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind, data []byte) error {
	if err := s.requireController(caller); err != nil {
		return err
	}
	if err := s.modules.Set(ctx, kind, data); err != nil {
		return err
	}
	metrics.ModuleUpdates.WithLabelValues(kind.String(), "upload").Inc()
	return nil
}

// SetCodeModuleFromURL downloads and stores the module of kind. Controllers only.
func (s *Service) SetCodeModuleFromURL(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind, url string) (int, error) {
	if err := s.requireController(caller); err != nil {
		return 0, err
	}
	size, err := s.modules.FetchAndSet(ctx, kind, url)
	if err != nil {
		s.log.Warn("Failed to fetch code module",
			slog.String("kind", kind.String()),
			slog.String("url", url),
			"err", err)
		return 0, err
	}
	metrics.ModuleUpdates.WithLabelValues(kind.String(), "url").Inc()
	return size, nil
}

// CodeModuleInfo describes the stored module of kind, or returns nil if none is stored. Controllers only.
func (s *Service) CodeModuleInfo(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind) (*state.ModuleInfo, error) {
	if err := s.requireController(caller); err != nil {
		return nil, err
	}
	return s.modules.Info(ctx, kind)
}

// GetConfig returns the service configuration.
func (s *Service) GetConfig(ctx context.Context, caller interfaces.Identity) (interfaces.ServiceConfig, error) {
	if err := s.requireAuthenticated(caller); err != nil {
		return interfaces.ServiceConfig{}, err
	}
	return s.config.Get(ctx)
}

// ListInstances returns the instances the caller provisioned.
func (s *Service) ListInstances(ctx context.Context, caller interfaces.Identity) ([]interfaces.ProvisionedInstance, error) {
	if err := s.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	return s.registry.List(ctx, caller)
}
