package state

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ruteri/ledger-factory-backend/interfaces"
)

var (
	// ErrConfigNotInitialized is returned when the configuration is read before install.
	ErrConfigNotInitialized = errors.New("service configuration is not initialized")

	// ErrUpgradeArgsOnInstall is returned when a fresh install is given upgrade arguments.
	ErrUpgradeArgsOnInstall = errors.New("cannot install service with upgrade arguments")
)

// DefaultPaymentLedgerID is the platform's native balance ledger, used when install
// arguments don't name a payment ledger.
var DefaultPaymentLedgerID = interfaces.InstanceHandle{19: 0x02}

// InitArgs configure the service on install, or overwrite the configuration on upgrade.
type InitArgs struct {
	PaymentLedgerID *interfaces.InstanceHandle
}

// ServiceArgs are the lifecycle arguments of the service. A nil Init means upgrade
// arguments, which keep the stored configuration.
type ServiceArgs struct {
	Init *InitArgs
}

// Config is the singleton service configuration slot.
type Config struct {
	state *State
}

// Config returns the configuration slot of s.
func (s *State) Config() *Config {
	return &Config{state: s}
}

// Install writes the initial configuration.
func (c *Config) Install(ctx context.Context, args ServiceArgs) error {
	if args.Init == nil {
		return ErrUpgradeArgsOnInstall
	}

	c.state.mu.Lock()
	defer c.state.mu.Unlock()

	return c.writeInit(ctx, args.Init)
}

// PostUpgrade overwrites the configuration when given Init arguments, and otherwise
// checks that a configuration is already stored.
func (c *Config) PostUpgrade(ctx context.Context, args *ServiceArgs) error {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()

	if args != nil && args.Init != nil {
		return c.writeInit(ctx, args.Init)
	}

	var cfg interfaces.ServiceConfig
	found, err := c.state.read(ctx, configSlot, &cfg)
	if err != nil {
		return err
	}
	if !found {
		return ErrConfigNotInitialized
	}

	c.state.log.Info("Service configuration retained",
		slog.String("payment_ledger_id", cfg.PaymentLedgerID.String()))
	return nil
}

// Get returns the stored configuration.
func (c *Config) Get(ctx context.Context) (interfaces.ServiceConfig, error) {
	var cfg interfaces.ServiceConfig
	found, err := c.state.read(ctx, configSlot, &cfg)
	if err != nil {
		return interfaces.ServiceConfig{}, err
	}
	if !found {
		return interfaces.ServiceConfig{}, ErrConfigNotInitialized
	}
	return cfg, nil
}

func (c *Config) writeInit(ctx context.Context, args *InitArgs) error {
	cfg := interfaces.ServiceConfig{PaymentLedgerID: DefaultPaymentLedgerID}
	if args.PaymentLedgerID != nil {
		cfg.PaymentLedgerID = *args.PaymentLedgerID
	}

	if err := c.state.write(ctx, configSlot, cfg); err != nil {
		return err
	}

	c.state.log.Info("Service configuration written",
		slog.String("payment_ledger_id", cfg.PaymentLedgerID.String()))
	return nil
}
