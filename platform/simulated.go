package platform

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// SimulatedInstance is the state of an instance on a SimulatedPlatform.
type SimulatedInstance struct {
	Handle      interfaces.InstanceHandle
	Controllers []interfaces.Identity
	Funding     *big.Int
	Module      []byte
	Installs    int
	Ledger      *initargs.LedgerInitParams
	Index       *initargs.IndexInitParams
}

// SimulatedPlatform is an in-process platform. It decodes install payloads and
// keeps the resulting ledger and index state so reconfigurations can be observed.
type SimulatedPlatform struct {
	mu         sync.Mutex
	minFunding *big.Int
	codec      initargs.Codec
	instances  map[interfaces.InstanceHandle]*SimulatedInstance
	nextID     uint64
	installErr error
	log        *slog.Logger
}

// NewSimulatedPlatform creates a platform that rejects instances funded below minFunding.
func NewSimulatedPlatform(minFunding *big.Int, codec initargs.Codec, log *slog.Logger) *SimulatedPlatform {
	return &SimulatedPlatform{
		minFunding: minFunding,
		codec:      codec,
		instances:  make(map[interfaces.InstanceHandle]*SimulatedInstance),
		nextID:     1,
		log:        log,
	}
}

// FailInstalls makes every InstallCode call fail with err until called with nil.
func (p *SimulatedPlatform) FailInstalls(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installErr = err
}

func (p *SimulatedPlatform) CreateInstance(ctx context.Context, settings interfaces.InstanceSettings, funding *big.Int) (interfaces.InstanceHandle, error) {
	if funding == nil || funding.Cmp(p.minFunding) < 0 {
		return interfaces.InstanceHandle{}, &Error{
			Op:      "create canister",
			Code:    CodeInsufficientFunds,
			Message: fmt.Sprintf("funding %v is below the minimum of %s", funding, p.minFunding),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var handle interfaces.InstanceHandle
	binary.BigEndian.PutUint64(handle[12:], p.nextID)
	p.nextID++

	p.instances[handle] = &SimulatedInstance{
		Handle:      handle,
		Controllers: slices.Clone(settings.Controllers),
		Funding:     new(big.Int).Set(funding),
	}

	p.log.Debug("Simulated instance created", slog.String("handle", handle.String()))
	return handle, nil
}

func (p *SimulatedPlatform) InstallCode(ctx context.Context, args interfaces.InstallArgs) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.installErr != nil {
		return p.installErr
	}

	inst, ok := p.instances[args.Handle]
	if !ok {
		return &Error{Op: "install code", Code: CodeInstanceNotFound, Message: fmt.Sprintf("instance %s not found", args.Handle)}
	}
	if len(args.Module) == 0 {
		return &Error{Op: "install code", Code: CodeInvalidArgument, Message: "empty module"}
	}

	switch args.Mode {
	case interfaces.ModeInstall:
		if inst.Installs > 0 {
			return &Error{Op: "install code", Code: CodeInvalidMode, Message: "instance already has code installed"}
		}
		if err := p.install(inst, args.Arg); err != nil {
			return err
		}
	case interfaces.ModeUpgrade:
		if inst.Installs == 0 {
			return &Error{Op: "install code", Code: CodeInvalidMode, Message: "cannot upgrade an empty instance"}
		}
		if err := p.upgrade(inst, args.Arg); err != nil {
			return err
		}
	default:
		return &Error{Op: "install code", Code: CodeInvalidMode, Message: fmt.Sprintf("unsupported mode %d", args.Mode)}
	}

	inst.Module = bytes.Clone(args.Module)
	inst.Installs++
	return nil
}

func (p *SimulatedPlatform) install(inst *SimulatedInstance, arg []byte) error {
	if ledgerArgs, err := initargs.DecodeLedgerArgs(p.codec, arg); err == nil && ledgerArgs.Init != nil {
		inst.Ledger = ledgerArgs.Init
		return nil
	}
	if indexArgs, err := initargs.DecodeIndexArgs(p.codec, arg); err == nil && indexArgs.Init != nil {
		inst.Index = indexArgs.Init
		return nil
	}
	return &Error{Op: "install code", Code: CodeInvalidArgument, Message: "install argument is neither a ledger nor an index init payload"}
}

func (p *SimulatedPlatform) upgrade(inst *SimulatedInstance, arg []byte) error {
	switch {
	case inst.Ledger != nil:
		ledgerArgs, err := initargs.DecodeLedgerArgs(p.codec, arg)
		if err != nil || ledgerArgs.Upgrade == nil {
			return &Error{Op: "install code", Code: CodeInvalidArgument, Message: "expected a ledger upgrade payload"}
		}
		next := initargs.Apply(*inst.Ledger, ledgerArgs.Upgrade)
		inst.Ledger = &next
	case inst.Index != nil:
		indexArgs, err := initargs.DecodeIndexArgs(p.codec, arg)
		if err != nil || indexArgs.Upgrade == nil {
			return &Error{Op: "install code", Code: CodeInvalidArgument, Message: "expected an index upgrade payload"}
		}
		if indexArgs.Upgrade.LedgerID != nil {
			inst.Index.LedgerID = *indexArgs.Upgrade.LedgerID
		}
		if indexArgs.Upgrade.RetrieveBlocksFromLedgerIntervalSeconds != nil {
			v := *indexArgs.Upgrade.RetrieveBlocksFromLedgerIntervalSeconds
			inst.Index.RetrieveBlocksFromLedgerIntervalSeconds = &v
		}
	}
	return nil
}

// Instance returns a copy of the instance state.
func (p *SimulatedPlatform) Instance(handle interfaces.InstanceHandle) (SimulatedInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[handle]
	if !ok {
		return SimulatedInstance{}, false
	}
	return *inst, true
}

// LedgerState returns the live parameters of a ledger instance.
func (p *SimulatedPlatform) LedgerState(handle interfaces.InstanceHandle) (initargs.LedgerInitParams, bool) {
	inst, ok := p.Instance(handle)
	if !ok || inst.Ledger == nil {
		return initargs.LedgerInitParams{}, false
	}
	return *inst.Ledger, true
}

// InstanceCount returns the number of allocated instances.
func (p *SimulatedPlatform) InstanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}
