// Package main (cmd/factory-cli) is a command line client of the ledger factory API.
package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/ledger-factory-backend/api"
	"github.com/ruteri/ledger-factory-backend/api/clients"
	"github.com/ruteri/ledger-factory-backend/cmd/flags"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/urfave/cli/v2"
)

var flagPaymentType = &cli.StringFlag{
	Name:  "payment",
	Value: "attached_balance",
	Usage: "payment method: attached_balance, caller_authorizes or sponsor_authorizes",
}
var flagPaymentUnit = &cli.StringFlag{
	Name:  "unit",
	Value: "balance",
	Usage: "ledger an authorized payment is drawn from: balance or token",
}
var flagSponsor = &cli.StringFlag{
	Name:  "sponsor",
	Usage: "sponsor identity for sponsor_authorizes payments",
}
var flagLedger = &cli.StringFlag{
	Name:     "ledger",
	Required: true,
	Usage:    "ledger instance handle",
}
var flagKind = &cli.StringFlag{
	Name:     "kind",
	Required: true,
	Usage:    "code module kind: ledger or index",
}

var paymentFlags = []cli.Flag{flagPaymentType, flagPaymentUnit, flagSponsor}

func main() {
	app := &cli.App{
		Name:  "factory-cli",
		Usage: "Provision and configure ledgers through the ledger factory",
		Flags: []cli.Flag{
			flags.FactoryAddrFlag,
			flags.CallerKeyFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "generate-key",
				Usage: "Generate a caller key and print it with its identity",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"private_key": fmt.Sprintf("%x", crypto.FromECDSA(key)),
						"identity":    api.IdentityFromKey(&key.PublicKey).String(),
					})
				},
			},
			{
				Name:  "create-ledger",
				Usage: "Create a ledger owned by the caller",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "symbol", Usage: "token symbol"},
					&cli.StringFlag{Name: "name", Usage: "token name"},
					&cli.Uint64Flag{Name: "transfer-fee", Usage: "transfer fee"},
					&cli.UintFlag{Name: "decimals", Usage: "token decimals"},
				}, paymentFlags...),
				Action: func(cCtx *cli.Context) error {
					client, method, err := paidClient(cCtx)
					if err != nil {
						return err
					}

					var overrides initargs.LedgerOverrides
					if cCtx.IsSet("symbol") {
						v := cCtx.String("symbol")
						overrides.Symbol = &v
					}
					if cCtx.IsSet("name") {
						v := cCtx.String("name")
						overrides.Name = &v
					}
					if cCtx.IsSet("transfer-fee") {
						v := cCtx.Uint64("transfer-fee")
						overrides.TransferFee = &v
					}
					if cCtx.IsSet("decimals") {
						v := uint8(cCtx.Uint("decimals"))
						overrides.Decimals = &v
					}

					handle, err := client.CreateLedger(overrides, method)
					if err != nil {
						return err
					}
					return printJSON(api.InstanceResponse{Handle: handle})
				},
			},
			{
				Name:  "create-index",
				Usage: "Create an index for a ledger",
				Flags: append([]cli.Flag{flagLedger}, paymentFlags...),
				Action: func(cCtx *cli.Context) error {
					client, method, err := paidClient(cCtx)
					if err != nil {
						return err
					}
					ledgerID, err := interfaces.NewInstanceHandleFromHex(cCtx.String(flagLedger.Name))
					if err != nil {
						return err
					}

					handle, err := client.CreateIndex(ledgerID, method)
					if err != nil {
						return err
					}
					return printJSON(api.InstanceResponse{Handle: handle})
				},
			},
			{
				Name:  "set-index",
				Usage: "Point a ledger at its index",
				Flags: []cli.Flag{flagLedger, &cli.StringFlag{Name: "index", Required: true}},
				Action: func(cCtx *cli.Context) error {
					ledgerID, err := interfaces.NewInstanceHandleFromHex(cCtx.String(flagLedger.Name))
					if err != nil {
						return err
					}
					indexID, err := interfaces.NewInstanceHandleFromHex(cCtx.String("index"))
					if err != nil {
						return err
					}
					return newClient(cCtx).SetIndexOnLedger(ledgerID, indexID)
				},
			},
			{
				Name:  "set-symbol",
				Usage: "Change a ledger's token symbol",
				Flags: []cli.Flag{flagLedger, &cli.StringFlag{Name: "symbol", Required: true}},
				Action: func(cCtx *cli.Context) error {
					ledgerID, err := interfaces.NewInstanceHandleFromHex(cCtx.String(flagLedger.Name))
					if err != nil {
						return err
					}
					return newClient(cCtx).SetLedgerSymbol(ledgerID, cCtx.String("symbol"))
				},
			},
			{
				Name:  "set-name",
				Usage: "Change a ledger's token name",
				Flags: []cli.Flag{flagLedger, &cli.StringFlag{Name: "name", Required: true}},
				Action: func(cCtx *cli.Context) error {
					ledgerID, err := interfaces.NewInstanceHandleFromHex(cCtx.String(flagLedger.Name))
					if err != nil {
						return err
					}
					return newClient(cCtx).SetLedgerName(ledgerID, cCtx.String("name"))
				},
			},
			{
				Name:  "config",
				Usage: "Print the service configuration",
				Action: func(cCtx *cli.Context) error {
					cfg, err := newClient(cCtx).GetConfig()
					if err != nil {
						return err
					}
					return printJSON(cfg)
				},
			},
			{
				Name:  "payment-accounts",
				Usage: "Print the escrow account for attached balance and the spender sponsors approve",
				Action: func(cCtx *cli.Context) error {
					accounts, err := newClient(cCtx).PaymentAccounts()
					if err != nil {
						return err
					}
					return printJSON(accounts)
				},
			},
			{
				Name:  "instances",
				Usage: "List the instances provisioned by the caller",
				Action: func(cCtx *cli.Context) error {
					instances, err := newClient(cCtx).ListInstances()
					if err != nil {
						return err
					}
					return printJSON(instances)
				},
			},
			{
				Name:  "module",
				Usage: "Manage code modules (controllers only)",
				Subcommands: []*cli.Command{
					{
						Name:  "upload",
						Usage: "Upload a code module from a file",
						Flags: []cli.Flag{flagKind, &cli.StringFlag{Name: "file", Required: true}},
						Action: func(cCtx *cli.Context) error {
							kind, err := interfaces.ParseInstanceKind(cCtx.String(flagKind.Name))
							if err != nil {
								return err
							}
							module, err := os.ReadFile(cCtx.String("file"))
							if err != nil {
								return err
							}
							size, err := newClient(cCtx).SetCodeModule(kind, module)
							if err != nil {
								return err
							}
							return printJSON(api.ModuleSizeResponse{Size: size})
						},
					},
					{
						Name:  "fetch",
						Usage: "Make the factory download a code module",
						Flags: []cli.Flag{flagKind, &cli.StringFlag{Name: "url", Required: true}},
						Action: func(cCtx *cli.Context) error {
							kind, err := interfaces.ParseInstanceKind(cCtx.String(flagKind.Name))
							if err != nil {
								return err
							}
							size, err := newClient(cCtx).FetchCodeModule(kind, cCtx.String("url"))
							if err != nil {
								return err
							}
							return printJSON(api.ModuleSizeResponse{Size: size})
						},
					},
					{
						Name:  "info",
						Usage: "Describe the stored code module",
						Flags: []cli.Flag{flagKind},
						Action: func(cCtx *cli.Context) error {
							kind, err := interfaces.ParseInstanceKind(cCtx.String(flagKind.Name))
							if err != nil {
								return err
							}
							info, err := newClient(cCtx).CodeModuleInfo(kind)
							if err != nil {
								return err
							}
							return printJSON(info)
						},
					},
				},
			},
			{
				Name:  "upgrade-ledger",
				Usage: "Re-install the ledger module with an optional partial update, given as JSON (controllers only)",
				Flags: []cli.Flag{flagLedger, &cli.StringFlag{Name: "params", Usage: `e.g. {"transfer_fee":5}`}},
				Action: func(cCtx *cli.Context) error {
					ledgerID, err := interfaces.NewInstanceHandleFromHex(cCtx.String(flagLedger.Name))
					if err != nil {
						return err
					}
					var params *initargs.LedgerUpgradeParams
					if raw := cCtx.String("params"); raw != "" {
						if err := json.Unmarshal([]byte(raw), &params); err != nil {
							return fmt.Errorf("invalid params: %w", err)
						}
					}
					return newClient(cCtx).UpgradeLedger(ledgerID, params)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func callerKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	raw := cCtx.String(flags.CallerKeyFlag.Name)
	if raw == "" {
		return nil, nil
	}
	return crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
}

func newClient(cCtx *cli.Context) *clients.FactoryClient {
	key, err := callerKey(cCtx)
	if err != nil {
		log.Fatalf("invalid caller key: %v", err)
	}
	return clients.NewFactoryClient(cCtx.String(flags.FactoryAddrFlag.Name), key)
}

func paidClient(cCtx *cli.Context) (*clients.FactoryClient, *payment.MethodSpec, error) {
	client := newClient(cCtx)

	spec := &payment.MethodSpec{
		Type: cCtx.String(flagPaymentType.Name),
		Unit: cCtx.String(flagPaymentUnit.Name),
	}
	if sponsor := cCtx.String(flagSponsor.Name); sponsor != "" {
		id, err := interfaces.NewIdentityFromHex(sponsor)
		if err != nil {
			return nil, nil, err
		}
		spec.Sponsor = &interfaces.Account{Owner: id}
	}
	if _, err := spec.Method(); err != nil {
		return nil, nil, err
	}

	return client, spec, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
