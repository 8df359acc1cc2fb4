package initargs

import (
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

const (
	DefaultTokenSymbol        = "TKN"
	DefaultTokenName          = "ICRC Token"
	DefaultTransferFee uint64 = 10_000
	DefaultDecimals    uint8  = 8

	ArchiveTriggerThreshold   uint64 = 2_000
	ArchiveNumBlocksToArchive uint64 = 1_000
	ArchiveCreationBalance    uint64 = 10_000_000_000_000
)

// LedgerOverrides are the client-supplied fields of a new ledger. Nil fields take defaults.
type LedgerOverrides struct {
	Symbol         *string             `json:"symbol,omitempty"`
	Name           *string             `json:"name,omitempty"`
	TransferFee    *uint64             `json:"transfer_fee,omitempty"`
	Decimals       *uint8              `json:"decimals,omitempty"`
	MintingAccount *interfaces.Account `json:"minting_account,omitempty"`
}

// BuildLedgerInit merges overrides over the ledger defaults. The minting account
// defaults to the payer; archives are controlled by the service.
func BuildLedgerInit(overrides LedgerOverrides, payer, service interfaces.Identity) LedgerArgs {
	params := &LedgerInitParams{
		MintingAccount: interfaces.Account{Owner: payer},
		TransferFee:    DefaultTransferFee,
		Decimals:       ptr(DefaultDecimals),
		TokenName:      DefaultTokenName,
		TokenSymbol:    DefaultTokenSymbol,
		ArchiveOptions: ArchiveOptions{
			TriggerThreshold:          ArchiveTriggerThreshold,
			NumBlocksToArchive:        ArchiveNumBlocksToArchive,
			ControllerID:              service,
			BalanceForArchiveCreation: ptr(ArchiveCreationBalance),
		},
		FeatureFlags: &FeatureFlags{ICRC2: true},
	}

	if overrides.Symbol != nil {
		params.TokenSymbol = *overrides.Symbol
	}
	if overrides.Name != nil {
		params.TokenName = *overrides.Name
	}
	if overrides.TransferFee != nil {
		params.TransferFee = *overrides.TransferFee
	}
	if overrides.Decimals != nil {
		params.Decimals = ptr(*overrides.Decimals)
	}
	if overrides.MintingAccount != nil {
		params.MintingAccount = *overrides.MintingAccount
	}

	return LedgerArgs{Init: params}
}

// BuildIndexInit returns the install payload of an index following ledgerID.
func BuildIndexInit(ledgerID interfaces.InstanceHandle) IndexArgs {
	return IndexArgs{Init: &IndexInitParams{LedgerID: ledgerID}}
}

// BuildLedgerUpgrade wraps a partial update. A nil update changes nothing.
func BuildLedgerUpgrade(update *LedgerUpgradeParams) LedgerArgs {
	if update == nil {
		update = &LedgerUpgradeParams{}
	}
	return LedgerArgs{Upgrade: update}
}

func ptr[T any](v T) *T {
	return &v
}
