// Package initargs builds and encodes the initialization and upgrade payloads
// installed together with ledger and index code modules.
package initargs

import (
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// FeatureFlags toggle optional ledger standards.
type FeatureFlags struct {
	ICRC2 bool `cbor:"icrc2" json:"icrc2"`
}

// ArchiveOptions control how a ledger spawns archive instances for old blocks.
type ArchiveOptions struct {
	TriggerThreshold           uint64                `cbor:"trigger_threshold"`
	NumBlocksToArchive         uint64                `cbor:"num_blocks_to_archive"`
	NodeMaxMemorySizeBytes     *uint64               `cbor:"node_max_memory_size_bytes,omitempty"`
	MaxMessageSizeBytes        *uint64               `cbor:"max_message_size_bytes,omitempty"`
	ControllerID               interfaces.Identity   `cbor:"controller_id"`
	MoreControllerIDs          []interfaces.Identity `cbor:"more_controller_ids,omitempty"`
	BalanceForArchiveCreation  *uint64               `cbor:"balance_for_archive_creation,omitempty"`
	MaxTransactionsPerResponse *uint64               `cbor:"max_transactions_per_response,omitempty"`
}

// MetadataValue is one of a natural number, an integer, text or a blob.
type MetadataValue struct {
	Nat  *uint64 `cbor:"Nat,omitempty" json:"nat,omitempty"`
	Int  *int64  `cbor:"Int,omitempty" json:"int,omitempty"`
	Text *string `cbor:"Text,omitempty" json:"text,omitempty"`
	Blob []byte  `cbor:"Blob,omitempty" json:"blob,omitempty"`
}

// MetadataEntry is a single ledger metadata key and value.
type MetadataEntry struct {
	Key   string        `cbor:"key" json:"key"`
	Value MetadataValue `cbor:"value" json:"value"`
}

// InitialBalance credits an account at ledger genesis.
type InitialBalance struct {
	Account interfaces.Account `cbor:"account"`
	Amount  uint64             `cbor:"amount"`
}

// LedgerInitParams is the full payload for a fresh ledger install.
type LedgerInitParams struct {
	MintingAccount      interfaces.Account         `cbor:"minting_account"`
	FeeCollectorAccount *interfaces.Account        `cbor:"fee_collector_account"`
	InitialBalances     []InitialBalance           `cbor:"initial_balances"`
	TransferFee         uint64                     `cbor:"transfer_fee"`
	Decimals            *uint8                     `cbor:"decimals"`
	TokenName           string                     `cbor:"token_name"`
	TokenSymbol         string                     `cbor:"token_symbol"`
	Metadata            []MetadataEntry            `cbor:"metadata"`
	ArchiveOptions      ArchiveOptions             `cbor:"archive_options"`
	MaxMemoLength       *uint16                    `cbor:"max_memo_length"`
	FeatureFlags        *FeatureFlags              `cbor:"feature_flags"`
	IndexID             *interfaces.InstanceHandle `cbor:"index_principal"`
}

// ChangeFeeCollector either unsets the fee collector or sets it to an account.
type ChangeFeeCollector struct {
	Unset bool                `cbor:"Unset,omitempty"`
	SetTo *interfaces.Account `cbor:"SetTo,omitempty"`
}

// UnsetFeeCollector removes the fee collector account.
func UnsetFeeCollector() *ChangeFeeCollector {
	return &ChangeFeeCollector{Unset: true}
}

// SetFeeCollector routes transfer fees to account.
func SetFeeCollector(account interfaces.Account) *ChangeFeeCollector {
	return &ChangeFeeCollector{SetTo: &account}
}

// ChangeArchiveOptions updates individual archive options.
type ChangeArchiveOptions struct {
	TriggerThreshold           *uint64               `cbor:"trigger_threshold,omitempty"`
	NumBlocksToArchive         *uint64               `cbor:"num_blocks_to_archive,omitempty"`
	NodeMaxMemorySizeBytes     *uint64               `cbor:"node_max_memory_size_bytes,omitempty"`
	MaxMessageSizeBytes        *uint64               `cbor:"max_message_size_bytes,omitempty"`
	ControllerID               *interfaces.Identity  `cbor:"controller_id,omitempty"`
	MoreControllerIDs          []interfaces.Identity `cbor:"more_controller_ids,omitempty"`
	BalanceForArchiveCreation  *uint64               `cbor:"balance_for_archive_creation,omitempty"`
	MaxTransactionsPerResponse *uint64               `cbor:"max_transactions_per_response,omitempty"`
}

// LedgerUpgradeParams is a partial update of a running ledger.
// Nil fields are left out of the payload and keep the ledger's current value.
type LedgerUpgradeParams struct {
	Metadata             []MetadataEntry            `cbor:"metadata,omitempty" json:"metadata,omitempty"`
	TokenName            *string                    `cbor:"token_name,omitempty" json:"token_name,omitempty"`
	TokenSymbol          *string                    `cbor:"token_symbol,omitempty" json:"token_symbol,omitempty"`
	TransferFee          *uint64                    `cbor:"transfer_fee,omitempty" json:"transfer_fee,omitempty"`
	ChangeFeeCollector   *ChangeFeeCollector        `cbor:"change_fee_collector,omitempty" json:"change_fee_collector,omitempty"`
	MaxMemoLength        *uint16                    `cbor:"max_memo_length,omitempty" json:"max_memo_length,omitempty"`
	FeatureFlags         *FeatureFlags              `cbor:"feature_flags,omitempty" json:"feature_flags,omitempty"`
	ChangeArchiveOptions *ChangeArchiveOptions      `cbor:"change_archive_options,omitempty" json:"change_archive_options,omitempty"`
	IndexID              *interfaces.InstanceHandle `cbor:"index_principal,omitempty" json:"index_id,omitempty"`
}

// LedgerArgs is the ledger install payload. Exactly one of Init and Upgrade is set.
type LedgerArgs struct {
	Init    *LedgerInitParams    `cbor:"Init,omitempty"`
	Upgrade *LedgerUpgradeParams `cbor:"Upgrade,omitempty"`
}

// IndexInitParams is the payload for a fresh index install.
type IndexInitParams struct {
	LedgerID                                interfaces.InstanceHandle `cbor:"ledger_id"`
	RetrieveBlocksFromLedgerIntervalSeconds *uint64                   `cbor:"retrieve_blocks_from_ledger_interval_seconds"`
}

// IndexUpgradeParams is a partial update of a running index.
type IndexUpgradeParams struct {
	LedgerID                                *interfaces.InstanceHandle `cbor:"ledger_id,omitempty"`
	RetrieveBlocksFromLedgerIntervalSeconds *uint64                    `cbor:"retrieve_blocks_from_ledger_interval_seconds,omitempty"`
}

// IndexArgs is the index install payload. Exactly one of Init and Upgrade is set.
type IndexArgs struct {
	Init    *IndexInitParams    `cbor:"Init,omitempty"`
	Upgrade *IndexUpgradeParams `cbor:"Upgrade,omitempty"`
}
