package platform

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/go-utils/rpcclient"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

const (
	methodCreateInstance = "platform_createInstance"
	methodInstallCode    = "platform_installCode"
)

// CreateInstanceParams is the wire form of a platform_createInstance call.
type CreateInstanceParams struct {
	Controllers []interfaces.Identity `json:"controllers"`
	Funding     *hexutil.Big          `json:"funding"`
}

// CreateInstanceResult is the wire form of a platform_createInstance response.
type CreateInstanceResult struct {
	Handle interfaces.InstanceHandle `json:"handle"`
}

// InstallCodeParams is the wire form of a platform_installCode call.
type InstallCodeParams struct {
	Handle interfaces.InstanceHandle `json:"handle"`
	Mode   string                    `json:"mode"`
	Module hexutil.Bytes             `json:"module"`
	Arg    hexutil.Bytes             `json:"arg"`
}

// RPCPlatform talks to the platform management API over JSON-RPC.
type RPCPlatform struct {
	client rpcclient.RPCClient
	log    *slog.Logger
}

// NewRPCPlatform creates a client for the management API at endpoint.
func NewRPCPlatform(endpoint string, log *slog.Logger) *RPCPlatform {
	return &RPCPlatform{
		client: rpcclient.NewClient(endpoint),
		log:    log,
	}
}

// CreateInstance allocates a new instance with the given controllers and funding.
func (p *RPCPlatform) CreateInstance(ctx context.Context, settings interfaces.InstanceSettings, funding *big.Int) (interfaces.InstanceHandle, error) {
	start := time.Now()

	var result CreateInstanceResult
	err := p.client.CallFor(ctx, &result, methodCreateInstance, CreateInstanceParams{
		Controllers: settings.Controllers,
		Funding:     (*hexutil.Big)(funding),
	})
	if err != nil {
		p.log.Warn("Instance creation failed",
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return interfaces.InstanceHandle{}, asPlatformError("create canister", err)
	}

	p.log.Debug("Instance created",
		slog.String("handle", result.Handle.String()),
		slog.String("funding", funding.String()),
		slog.Duration("duration", time.Since(start)))

	return result.Handle, nil
}

// InstallCode installs module with arg onto the instance.
func (p *RPCPlatform) InstallCode(ctx context.Context, args interfaces.InstallArgs) error {
	start := time.Now()

	var ok bool
	err := p.client.CallFor(ctx, &ok, methodInstallCode, InstallCodeParams{
		Handle: args.Handle,
		Mode:   args.Mode.String(),
		Module: args.Module,
		Arg:    args.Arg,
	})
	if err != nil {
		p.log.Warn("Code installation failed",
			slog.String("handle", args.Handle.String()),
			slog.String("mode", args.Mode.String()),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return asPlatformError("install code", err)
	}

	p.log.Debug("Code installed",
		slog.String("handle", args.Handle.String()),
		slog.String("mode", args.Mode.String()),
		slog.Int("module_size", len(args.Module)),
		slog.Duration("duration", time.Since(start)))

	return nil
}
