package api

import (
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
)

// CreateLedgerRequest is the body of POST /api/v1/ledgers.
type CreateLedgerRequest struct {
	Overrides initargs.LedgerOverrides `json:"overrides"`

	// Payment selects how the fee is paid. Omitted means the attached balance.
	Payment *payment.MethodSpec `json:"payment,omitempty"`
}

// CreateIndexRequest is the body of POST /api/v1/indexes.
type CreateIndexRequest struct {
	LedgerID interfaces.InstanceHandle `json:"ledger_id"`
	Payment  *payment.MethodSpec       `json:"payment,omitempty"`
}

// InstanceResponse returns the handle of a provisioned instance.
type InstanceResponse struct {
	Handle interfaces.InstanceHandle `json:"handle"`
}

type SetIndexRequest struct {
	IndexID interfaces.InstanceHandle `json:"index_id"`
}

type SetSymbolRequest struct {
	Symbol string `json:"symbol"`
}

type SetNameRequest struct {
	Name string `json:"name"`
}

// FetchModuleRequest asks the service to download a code module.
type FetchModuleRequest struct {
	URL string `json:"url"`
}

// ModuleSizeResponse reports the size of a stored code module.
type ModuleSizeResponse struct {
	Size int `json:"size"`
}

// ModuleInfoResponse describes a stored code module.
type ModuleInfoResponse struct {
	ContentID string `json:"content_id"`
	Size      int    `json:"size"`
}

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// FactoryProvider is the client view of the factory service.
type FactoryProvider interface {
	CreateLedger(overrides initargs.LedgerOverrides, method *payment.MethodSpec) (interfaces.InstanceHandle, error)
	CreateIndex(ledgerID interfaces.InstanceHandle, method *payment.MethodSpec) (interfaces.InstanceHandle, error)
	SetIndexOnLedger(ledgerID, indexID interfaces.InstanceHandle) error
	SetLedgerSymbol(ledgerID interfaces.InstanceHandle, symbol string) error
	SetLedgerName(ledgerID interfaces.InstanceHandle, name string) error
	GetConfig() (*interfaces.ServiceConfig, error)
	ListInstances() ([]interfaces.ProvisionedInstance, error)
	PaymentAccounts() (*payment.Accounts, error)
}

// AdminProvider is the client view of the controller-only operations.
type AdminProvider interface {
	SetCodeModule(kind interfaces.InstanceKind, module []byte) (int, error)
	FetchCodeModule(kind interfaces.InstanceKind, url string) (int, error)
	CodeModuleInfo(kind interfaces.InstanceKind) (*ModuleInfoResponse, error)
	UpgradeLedger(ledgerID interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error
}
