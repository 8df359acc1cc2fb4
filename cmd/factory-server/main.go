package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/ledger-factory-backend/api"
	"github.com/ruteri/ledger-factory-backend/api/factoryhandler"
	"github.com/ruteri/ledger-factory-backend/cmd/flags"
	"github.com/ruteri/ledger-factory-backend/httpserver"
	"github.com/urfave/cli/v2"
)

var (
	flagListenAddr = &cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	}
	flagStateDir = &cli.StringFlag{
		Name:  "state-dir",
		Value: "./factory-state",
		Usage: "pebble directory holding the service state. Ignored if --postgres-dsn is set",
	}
	flagPostgresDSN = &cli.StringFlag{
		Name:    "postgres-dsn",
		EnvVars: []string{"FACTORY_POSTGRES_DSN"},
		Usage:   "keep the service state in postgres instead of pebble",
	}
	flagPostgresTable = &cli.StringFlag{
		Name:  "postgres-table",
		Value: "factory_slots",
		Usage: "postgres table holding the service state",
	}
	flagModuleStorage = &cli.StringSliceFlag{
		Name:  "module-storage",
		Value: cli.NewStringSlice("file://./factory-modules"),
		Usage: "storage backend URI for code modules (file://, s3://, vault://, ipfs://). Repeat to replicate",
	}
	flagFetchTimeout = &cli.DurationFlag{
		Name:  "fetch-timeout",
		Value: defaultFetchTimeout,
		Usage: "timeout of code module downloads",
	}
	flagPlatformRPC = &cli.StringFlag{
		Name:  "platform-rpc",
		Value: "simulated",
		Usage: "JSON-RPC endpoint of the platform management interface, or 'simulated'",
	}
	flagServiceKey = &cli.StringFlag{
		Name:     "service-key",
		Required: true,
		EnvVars:  []string{"FACTORY_SERVICE_KEY"},
		Usage:    "hex-encoded secp256k1 private key of the service identity",
	}
	flagEthRPC = &cli.StringFlag{
		Name:  "eth-rpc",
		Usage: "Ethereum RPC serving ERC-20 payment ledgers. Token payments are disabled if empty",
	}
	flagBalanceLedgerRPC = &cli.StringFlag{
		Name:  "balance-ledger-rpc",
		Usage: "JSON-RPC endpoint of the native balance ledger. Balance payments are disabled if empty",
	}
	flagPaymentLedger = &cli.StringFlag{
		Name:  "payment-ledger",
		Usage: "handle of the token ledger trusted for payments, written on install or --reinit",
	}
	flagReinit = &cli.BoolFlag{
		Name:  "reinit",
		Usage: "overwrite the stored configuration with --payment-ledger on startup",
	}
	flagControllers = &cli.StringSliceFlag{
		Name:  "controller",
		Usage: "identity allowed to manage code modules. Repeatable",
	}
	flagFundingMargin = &cli.StringFlag{
		Name:  "funding-margin",
		Value: "0",
		Usage: "amount added to the minimum funding of every new instance",
	}
	flagSignatureWindow = &cli.DurationFlag{
		Name:  "signature-window",
		Value: api.DefaultSignatureWindow,
		Usage: "accepted distance between a request's signing time and the server clock",
	}
	flagKafkaBrokers = &cli.StringSliceFlag{
		Name:  "kafka-brokers",
		Usage: "Kafka brokers receiving instance lifecycle events. Events are not published if empty",
	}
	flagKafkaTopic = &cli.StringFlag{
		Name:  "kafka-topic",
		Value: "ledger-factory.instances",
		Usage: "Kafka topic for instance lifecycle events",
	}
)

func main() {
	app := &cli.App{
		Name:  "factory-server",
		Usage: "Serve the ledger factory API",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagStateDir,
			flagPostgresDSN,
			flagPostgresTable,
			flagModuleStorage,
			flagFetchTimeout,
			flagPlatformRPC,
			flagServiceKey,
			flagEthRPC,
			flagBalanceLedgerRPC,
			flagPaymentLedger,
			flagReinit,
			flagControllers,
			flagFundingMargin,
			flagSignatureWindow,
			flagKafkaBrokers,
			flagKafkaTopic,
			flags.LogServiceFlagFn("ledger-factory"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			factory, err := setupFactory(cCtx, logger)
			if err != nil {
				logger.Error("Failed to set up factory", "err", err)
				return err
			}
			defer factory.Close()

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
			server, err := httpserver.New(cfg, factoryhandler.NewHandler(factory.service, api.NewAuthenticator(cCtx.Duration(flagSignatureWindow.Name)), logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
