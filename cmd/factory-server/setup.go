package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/ledger-factory-backend/api"
	"github.com/ruteri/ledger-factory-backend/events"
	"github.com/ruteri/ledger-factory-backend/fetch"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/ruteri/ledger-factory-backend/platform"
	"github.com/ruteri/ledger-factory-backend/provisioning"
	"github.com/ruteri/ledger-factory-backend/state"
	"github.com/ruteri/ledger-factory-backend/storage"
	"github.com/urfave/cli/v2"
)

const defaultFetchTimeout = 60 * time.Second

type factory struct {
	state   *state.State
	events  events.Publisher
	service *provisioning.Service
	log     *slog.Logger
}

func (f *factory) Close() {
	if err := f.events.Close(); err != nil {
		f.log.Error("Failed to close event publisher", "err", err)
	}
	if err := f.state.Close(); err != nil {
		f.log.Error("Failed to close state store", "err", err)
	}
}

func setupFactory(cCtx *cli.Context, log *slog.Logger) (*factory, error) {
	ctx := cCtx.Context

	serviceKey, err := parsePrivateKey(cCtx.String(flagServiceKey.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid service key: %w", err)
	}
	serviceID := api.IdentityFromKey(&serviceKey.PublicKey)
	log.Info("Service identity", slog.String("identity", serviceID.String()))

	controllers, err := parseIdentities(cCtx.StringSlice(flagControllers.Name))
	if err != nil {
		return nil, err
	}
	if len(controllers) == 0 {
		log.Warn("No controllers configured, code modules cannot be changed")
	}

	margin, ok := new(big.Int).SetString(cCtx.String(flagFundingMargin.Name), 10)
	if !ok || margin.Sign() < 0 {
		return nil, fmt.Errorf("invalid funding margin %q", cCtx.String(flagFundingMargin.Name))
	}

	store, err := openSlotStore(ctx, cCtx, log)
	if err != nil {
		return nil, err
	}
	st := state.New(store, log)

	if err := initializeConfig(ctx, st, cCtx.String(flagPaymentLedger.Name), cCtx.Bool(flagReinit.Name), log); err != nil {
		st.Close()
		return nil, err
	}

	backend, err := openModuleStorage(cCtx.StringSlice(flagModuleStorage.Name), log)
	if err != nil {
		st.Close()
		return nil, err
	}
	modules := state.NewCodeModules(st, backend, fetch.NewHTTPFetcher(cCtx.Duration(flagFetchTimeout.Name), log))

	codec, err := initargs.NewCBORCodec()
	if err != nil {
		st.Close()
		return nil, err
	}

	var platformClient interfaces.Platform
	if endpoint := cCtx.String(flagPlatformRPC.Name); endpoint == "simulated" {
		log.Warn("Using simulated platform, instances are not persisted")
		platformClient = platform.NewSimulatedPlatform(provisioning.MinFundingForCreation, codec, log)
	} else {
		log.Info("Using platform RPC", slog.String("endpoint", endpoint))
		platformClient = platform.NewRPCPlatform(endpoint, log)
	}

	var balanceLedger payment.BalanceLedger
	if endpoint := cCtx.String(flagBalanceLedgerRPC.Name); endpoint != "" {
		balanceLedger = payment.NewRPCLedger(endpoint)
	}

	var tokenLedgers interfaces.LedgerResolver
	if rpcAddr := cCtx.String(flagEthRPC.Name); rpcAddr != "" {
		tokenLedgers, err = dialTokenLedgers(ctx, rpcAddr, serviceKey, log)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cCtx.StringSlice(flagKafkaBrokers.Name); len(brokers) > 0 {
		topic := cCtx.String(flagKafkaTopic.Name)
		log.Info("Publishing instance events", slog.String("topic", topic), "brokers", brokers)
		publisher = events.NewKafkaPublisher(brokers, topic)
	}

	pipeline := provisioning.NewPipeline(provisioning.PipelineConfig{
		Service:       serviceID,
		Platform:      platformClient,
		Modules:       modules,
		Registry:      st.Registry(),
		Codec:         codec,
		FundingMargin: margin,
		Events:        publisher,
		Log:           log,
	})
	guard := payment.NewGuard(serviceID, balanceLedger, tokenLedgers, st.Config(), log)

	return &factory{
		state:   st,
		events:  publisher,
		service: provisioning.NewService(pipeline, guard, st.Config(), modules, st.Registry(), controllers, log),
		log:     log,
	}, nil
}

func openSlotStore(ctx context.Context, cCtx *cli.Context, log *slog.Logger) (interfaces.SlotStore, error) {
	if dsn := cCtx.String(flagPostgresDSN.Name); dsn != "" {
		log.Info("Using postgres state store", slog.String("table", cCtx.String(flagPostgresTable.Name)))
		return state.NewPostgresSlotStore(ctx, dsn, cCtx.String(flagPostgresTable.Name))
	}

	dir := cCtx.String(flagStateDir.Name)
	log.Info("Using pebble state store", slog.String("dir", dir))
	return state.NewPebbleSlotStore(dir)
}

// initializeConfig installs the configuration into an empty store, and otherwise
// keeps it unless reinit is set.
func initializeConfig(ctx context.Context, st *state.State, paymentLedger string, reinit bool, log *slog.Logger) error {
	initArgs := &state.InitArgs{}
	if paymentLedger != "" {
		handle, err := interfaces.NewInstanceHandleFromHex(paymentLedger)
		if err != nil {
			return fmt.Errorf("invalid payment ledger: %w", err)
		}
		initArgs.PaymentLedgerID = &handle
	}

	initialized, err := st.Initialized(ctx)
	if err != nil {
		return err
	}

	if !initialized {
		log.Info("Installing service configuration")
		return st.Config().Install(ctx, state.ServiceArgs{Init: initArgs})
	}

	args := state.ServiceArgs{}
	if reinit {
		log.Info("Reinitializing service configuration")
		args.Init = initArgs
	} else if paymentLedger != "" {
		log.Warn("Ignoring --payment-ledger on an initialized store, pass --reinit to apply it")
	}
	return st.Config().PostUpgrade(ctx, &args)
}

func openModuleStorage(uris []string, log *slog.Logger) (interfaces.StorageBackend, error) {
	if len(uris) == 0 {
		return nil, errors.New("at least one module storage backend is required")
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	backends := storage.NewStorageBackendFactory(log)
	if len(locations) == 1 {
		return backends.StorageBackendFor(locations[0])
	}
	return backends.CreateMultiBackend(locations)
}

func dialTokenLedgers(ctx context.Context, rpcAddr string, key *ecdsa.PrivateKey, log *slog.Logger) (interfaces.LedgerResolver, error) {
	log.Info("Connecting to Ethereum RPC", "address", rpcAddr)
	client, err := ethclient.DialContext(ctx, rpcAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	return payment.NewERC20LedgerFactory(client, client, auth), nil
}

func parsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
}

func parseIdentities(values []string) ([]interfaces.Identity, error) {
	ids := make([]interfaces.Identity, 0, len(values))
	for _, v := range values {
		id, err := interfaces.NewIdentityFromHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid controller %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
