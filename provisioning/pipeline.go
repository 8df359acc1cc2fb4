// Package provisioning turns paid client requests into running ledger and index
// instances on the platform, and pushes reconfigurations into running ledgers.
//
// The pipeline is not transactional: a funded instance is recorded as pending
// before code is installed, and nothing is rolled back when a later step fails.
// Such instances stay in the registry with Installed=false for operators to reconcile.
package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ruteri/ledger-factory-backend/events"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/metrics"
)

// MinFundingForCreation covers allocating an instance and a single code install.
var MinFundingForCreation = big.NewInt(500_000_000_000)

// ModuleSource provides the stored code module of a kind. An empty module means none is stored.
type ModuleSource interface {
	Get(ctx context.Context, kind interfaces.InstanceKind) ([]byte, error)
}

// InstanceRegistry records provisioned instances per client.
type InstanceRegistry interface {
	Upsert(ctx context.Context, client interfaces.Identity, instance interfaces.ProvisionedInstance) error
	List(ctx context.Context, client interfaces.Identity) ([]interfaces.ProvisionedInstance, error)
}

// ProvisionRequest asks for a new instance of Kind paid for by Payer.
type ProvisionRequest struct {
	Kind  interfaces.InstanceKind
	Payer interfaces.Identity

	// Ledger carries overrides of the ledger defaults. Used for KindLedger.
	Ledger initargs.LedgerOverrides

	// LedgerID is the ledger an index follows. Used for KindIndex.
	LedgerID interfaces.InstanceHandle
}

// LedgerFieldUpdate changes exactly one field of a running ledger.
type LedgerFieldUpdate struct {
	Symbol  *string
	Name    *string
	IndexID *interfaces.InstanceHandle
}

func (u LedgerFieldUpdate) upgradeParams() (*initargs.LedgerUpgradeParams, error) {
	set := 0
	for _, isSet := range []bool{u.Symbol != nil, u.Name != nil, u.IndexID != nil} {
		if isSet {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one ledger field must be updated, got %d", ErrInvalidRequest, set)
	}

	return &initargs.LedgerUpgradeParams{
		TokenSymbol: u.Symbol,
		TokenName:   u.Name,
		IndexID:     u.IndexID,
	}, nil
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	// Service is the identity of this service; it controls every instance it creates.
	Service interfaces.Identity

	Platform interfaces.Platform
	Modules  ModuleSource
	Registry InstanceRegistry
	Codec    initargs.Codec

	// FundingMargin is added to MinFundingForCreation for every new instance.
	FundingMargin *big.Int

	// Events receives lifecycle transitions. Optional.
	Events events.Publisher

	Log *slog.Logger
}

// Pipeline runs provisioning and reconfiguration against the platform.
type Pipeline struct {
	service       interfaces.Identity
	platform      interfaces.Platform
	modules       ModuleSource
	registry      InstanceRegistry
	codec         initargs.Codec
	fundingMargin *big.Int
	events        events.Publisher
	log           *slog.Logger
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	margin := cfg.FundingMargin
	if margin == nil {
		margin = new(big.Int)
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Pipeline{
		service:       cfg.Service,
		platform:      cfg.Platform,
		modules:       cfg.Modules,
		registry:      cfg.Registry,
		codec:         cfg.Codec,
		fundingMargin: margin,
		events:        publisher,
		log:           cfg.Log,
	}
}

// Funding returns the amount every new instance is funded with.
func (p *Pipeline) Funding() *big.Int {
	return new(big.Int).Add(MinFundingForCreation, p.fundingMargin)
}

// Provision creates, records and installs a new instance. Each step fails fast;
// once allocation succeeded the instance stays in the payer's registry, marked
// installed only when the install step succeeded.
func (p *Pipeline) Provision(ctx context.Context, req ProvisionRequest) (interfaces.InstanceHandle, error) {
	start := time.Now()
	log := p.log.With(
		slog.String("kind", req.Kind.String()),
		slog.String("payer", req.Payer.String()))

	handle, err := p.provision(ctx, req, log)

	outcome := "ok"
	if err != nil {
		outcome = ErrorKind(err)
		log.Warn("Provisioning failed", "err", err, slog.String("handle", handle.String()))
	} else {
		log.Info("Instance provisioned",
			slog.String("handle", handle.String()),
			slog.Duration("duration", time.Since(start)))
	}
	metrics.ProvisionTotal.WithLabelValues(req.Kind.String(), outcome).Inc()
	metrics.ProvisionDuration.WithLabelValues(req.Kind.String()).Observe(time.Since(start).Seconds())

	return handle, err
}

func (p *Pipeline) provision(ctx context.Context, req ProvisionRequest, log *slog.Logger) (interfaces.InstanceHandle, error) {
	module, err := p.modules.Get(ctx, req.Kind)
	if err != nil {
		return interfaces.InstanceHandle{}, fmt.Errorf("failed to read %s module: %w", req.Kind, err)
	}
	if len(module) == 0 {
		return interfaces.InstanceHandle{}, ErrNoCodeStored
	}

	settings := interfaces.InstanceSettings{Controllers: []interfaces.Identity{p.service, req.Payer}}
	handle, err := p.platform.CreateInstance(ctx, settings, p.Funding())
	if err != nil {
		return interfaces.InstanceHandle{}, &AllocationFailedError{Err: err}
	}
	log.Debug("Instance allocated", slog.String("handle", handle.String()))

	pending := interfaces.ProvisionedInstance{Handle: handle, Kind: req.Kind, Installed: false}
	if err := p.registry.Upsert(ctx, req.Payer, pending); err != nil {
		return handle, err
	}
	p.publish(ctx, events.NewInstanceEvent(events.StagePending, req.Payer, handle, req.Kind), log)

	arg, err := p.encodeInit(req)
	if err != nil {
		p.publishFailure(ctx, req, handle, err, log)
		return handle, &InitArgsEncodingError{Err: err}
	}

	err = p.platform.InstallCode(ctx, interfaces.InstallArgs{
		Handle: handle,
		Mode:   interfaces.ModeInstall,
		Module: module,
		Arg:    arg,
	})
	if err != nil {
		p.publishFailure(ctx, req, handle, err, log)
		return handle, &InstallFailedError{Handle: handle, Err: err}
	}

	installed := interfaces.ProvisionedInstance{Handle: handle, Kind: req.Kind, Installed: true}
	if err := p.registry.Upsert(ctx, req.Payer, installed); err != nil {
		return handle, err
	}
	p.publish(ctx, events.NewInstanceEvent(events.StageInstalled, req.Payer, handle, req.Kind), log)

	return handle, nil
}

func (p *Pipeline) encodeInit(req ProvisionRequest) ([]byte, error) {
	switch req.Kind {
	case interfaces.KindLedger:
		return p.codec.Marshal(initargs.BuildLedgerInit(req.Ledger, req.Payer, p.service))
	case interfaces.KindIndex:
		return p.codec.Marshal(initargs.BuildIndexInit(req.LedgerID))
	default:
		return nil, fmt.Errorf("unsupported instance kind %d", req.Kind)
	}
}

// Reconfigure pushes a single field change into a running ledger by reinstalling
// the stored ledger module in upgrade mode. The registry is not touched.
func (p *Pipeline) Reconfigure(ctx context.Context, target interfaces.InstanceHandle, update LedgerFieldUpdate) error {
	params, err := update.upgradeParams()
	if err != nil {
		return err
	}
	return p.UpgradeLedger(ctx, target, params)
}

// UpgradeLedger reinstalls the stored ledger module on target with a partial update.
func (p *Pipeline) UpgradeLedger(ctx context.Context, target interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error {
	err := p.upgradeLedger(ctx, target, params)

	outcome := "ok"
	if err != nil {
		outcome = ErrorKind(err)
		p.log.Warn("Ledger reconfiguration failed", slog.String("handle", target.String()), "err", err)
	} else {
		p.log.Info("Ledger reconfigured", slog.String("handle", target.String()))
	}
	metrics.ReconfigureTotal.WithLabelValues(outcome).Inc()

	return err
}

func (p *Pipeline) upgradeLedger(ctx context.Context, target interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error {
	module, err := p.modules.Get(ctx, interfaces.KindLedger)
	if err != nil {
		return fmt.Errorf("failed to read ledger module: %w", err)
	}
	if len(module) == 0 {
		return ErrNoCodeStored
	}

	arg, err := p.codec.Marshal(initargs.BuildLedgerUpgrade(params))
	if err != nil {
		return &InitArgsEncodingError{Err: err}
	}

	err = p.platform.InstallCode(ctx, interfaces.InstallArgs{
		Handle: target,
		Mode:   interfaces.ModeUpgrade,
		Module: module,
		Arg:    arg,
	})
	if err != nil {
		return &InstallFailedError{Handle: target, Err: err}
	}
	return nil
}

func (p *Pipeline) publishFailure(ctx context.Context, req ProvisionRequest, handle interfaces.InstanceHandle, cause error, log *slog.Logger) {
	event := events.NewInstanceEvent(events.StageFailed, req.Payer, handle, req.Kind)
	event.Error = cause.Error()
	p.publish(ctx, event, log)
}

func (p *Pipeline) publish(ctx context.Context, event events.InstanceEvent, log *slog.Logger) {
	if err := p.events.Publish(ctx, event); err != nil {
		metrics.EventPublishFailures.Inc()
		log.Warn("Failed to publish instance event",
			slog.String("stage", string(event.Stage)),
			slog.String("handle", event.Handle.String()),
			"err", err)
	}
}
