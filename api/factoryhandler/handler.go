package factoryhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/ledger-factory-backend/api"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/ruteri/ledger-factory-backend/provisioning"
	"github.com/ruteri/ledger-factory-backend/state"
)

// maxBodySize is the maximum JSON request body size (1MB).
const maxBodySize = 1024 * 1024

// Service is the set of factory operations the handler exposes.
type Service interface {
	CreateLedger(ctx context.Context, call payment.Call, overrides initargs.LedgerOverrides, method payment.Method) (interfaces.InstanceHandle, error)
	CreateIndex(ctx context.Context, call payment.Call, ledgerID interfaces.InstanceHandle, method payment.Method) (interfaces.InstanceHandle, error)
	PaymentAccounts(ctx context.Context, caller interfaces.Identity) (payment.Accounts, error)
	SetIndexOnLedger(ctx context.Context, caller interfaces.Identity, ledgerID, indexID interfaces.InstanceHandle) error
	SetLedgerSymbol(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, symbol string) error
	SetLedgerName(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, name string) error
	UpgradeLedger(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error
	SetCodeModule(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind, data []byte) error
	SetCodeModuleFromURL(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind, url string) (int, error)
	CodeModuleInfo(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind) (*state.ModuleInfo, error)
	GetConfig(ctx context.Context, caller interfaces.Identity) (interfaces.ServiceConfig, error)
	ListInstances(ctx context.Context, caller interfaces.Identity) ([]interfaces.ProvisionedInstance, error)
}

// RequestError is a request rejected before it reached the service.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// Handler translates HTTP requests into Service calls.
type Handler struct {
	service Service
	auth    *api.Authenticator
	log     *slog.Logger
}

func NewHandler(service Service, auth *api.Authenticator, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		auth:    auth,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/ledgers", h.HandleCreateLedger)
	r.Post("/api/v1/indexes", h.HandleCreateIndex)
	r.Put("/api/v1/ledgers/{ledger_id}/index", h.HandleSetIndex)
	r.Put("/api/v1/ledgers/{ledger_id}/symbol", h.HandleSetSymbol)
	r.Put("/api/v1/ledgers/{ledger_id}/name", h.HandleSetName)
	r.Get("/api/v1/config", h.HandleGetConfig)
	r.Get("/api/v1/instances", h.HandleListInstances)
	r.Get("/api/v1/payment-accounts", h.HandlePaymentAccounts)

	r.Put("/api/admin/modules/{kind}", h.HandleSetModule)
	r.Post("/api/admin/modules/{kind}/fetch", h.HandleFetchModule)
	r.Get("/api/admin/modules/{kind}", h.HandleModuleInfo)
	r.Post("/api/admin/ledgers/{ledger_id}/upgrade", h.HandleUpgradeLedger)
}

// readRequest reads at most limit body bytes and authenticates the caller.
func (h *Handler) readRequest(r *http.Request, limit int64) (interfaces.Identity, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return interfaces.Identity{}, nil, badRequest("failed to read request body: %v", err)
	}
	if int64(len(body)) > limit {
		return interfaces.Identity{}, nil, &RequestError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Err:        fmt.Errorf("request body exceeds %d bytes", limit),
		}
	}

	caller, err := h.auth.Authenticate(r, body)
	if err != nil {
		return interfaces.Identity{}, nil, &RequestError{StatusCode: http.StatusUnauthorized, Err: err}
	}
	return caller, body, nil
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func handleParam(r *http.Request, name string) (interfaces.InstanceHandle, error) {
	handle, err := interfaces.NewInstanceHandleFromHex(chi.URLParam(r, name))
	if err != nil {
		return interfaces.InstanceHandle{}, badRequest("invalid %s: %v", name, err)
	}
	return handle, nil
}

func kindParam(r *http.Request) (interfaces.InstanceKind, error) {
	kind, err := interfaces.ParseInstanceKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, badRequest("%v", err)
	}
	return kind, nil
}

// HandleCreateLedger provisions a ledger paid for by the caller.
//
// URL format: POST /api/v1/ledgers
//
// Request body: api.CreateLedgerRequest. Response: api.InstanceResponse.
func (h *Handler) HandleCreateLedger(w http.ResponseWriter, r *http.Request) {
	caller, body, err := h.readRequest(r, maxBodySize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req api.CreateLedgerRequest
	if len(body) > 0 {
		if err := decodeJSON(body, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	call, method, err := paidCall(caller, req.Payment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	handle, err := h.service.CreateLedger(r.Context(), call, req.Overrides, method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.InstanceResponse{Handle: handle})
}

// HandleCreateIndex provisions an index following the requested ledger.
//
// URL format: POST /api/v1/indexes
//
// Request body: api.CreateIndexRequest. Response: api.InstanceResponse.
func (h *Handler) HandleCreateIndex(w http.ResponseWriter, r *http.Request) {
	caller, body, err := h.readRequest(r, maxBodySize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req api.CreateIndexRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writeError(w, err)
		return
	}

	call, method, err := paidCall(caller, req.Payment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	handle, err := h.service.CreateIndex(r.Context(), call, req.LedgerID, method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.InstanceResponse{Handle: handle})
}

func paidCall(caller interfaces.Identity, spec *payment.MethodSpec) (payment.Call, payment.Method, error) {
	method, err := spec.Method()
	if err != nil {
		return payment.Call{}, nil, badRequest("%v", err)
	}
	return payment.Call{Caller: caller}, method, nil
}

// HandleSetIndex points a ledger at its index.
//
// URL format: PUT /api/v1/ledgers/{ledger_id}/index
func (h *Handler) HandleSetIndex(w http.ResponseWriter, r *http.Request) {
	var req api.SetIndexRequest
	h.handleLedgerUpdate(w, r, &req, false, func(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle) error {
		return h.service.SetIndexOnLedger(ctx, caller, ledgerID, req.IndexID)
	})
}

// HandleSetSymbol changes a ledger's token symbol.
//
// URL format: PUT /api/v1/ledgers/{ledger_id}/symbol
func (h *Handler) HandleSetSymbol(w http.ResponseWriter, r *http.Request) {
	var req api.SetSymbolRequest
	h.handleLedgerUpdate(w, r, &req, false, func(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle) error {
		return h.service.SetLedgerSymbol(ctx, caller, ledgerID, req.Symbol)
	})
}

// HandleSetName changes a ledger's token name.
//
// URL format: PUT /api/v1/ledgers/{ledger_id}/name
func (h *Handler) HandleSetName(w http.ResponseWriter, r *http.Request) {
	var req api.SetNameRequest
	h.handleLedgerUpdate(w, r, &req, false, func(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle) error {
		return h.service.SetLedgerName(ctx, caller, ledgerID, req.Name)
	})
}

// HandleUpgradeLedger applies a partial update to a running ledger. Controllers only.
//
// URL format: POST /api/admin/ledgers/{ledger_id}/upgrade
//
// Request body: initargs.LedgerUpgradeParams. An empty body re-installs the stored
// module without changing any field.
func (h *Handler) HandleUpgradeLedger(w http.ResponseWriter, r *http.Request) {
	var req *initargs.LedgerUpgradeParams
	h.handleLedgerUpdate(w, r, &req, true, func(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle) error {
		return h.service.UpgradeLedger(ctx, caller, ledgerID, req)
	})
}

// handleLedgerUpdate decodes the body into req and applies it. With allowEmpty an
// empty body leaves req untouched.
func (h *Handler) handleLedgerUpdate(w http.ResponseWriter, r *http.Request, req any, allowEmpty bool, apply func(context.Context, interfaces.Identity, interfaces.InstanceHandle) error) {
	ledgerID, err := handleParam(r, "ledger_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller, body, err := h.readRequest(r, maxBodySize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(body) > 0 || !allowEmpty {
		if err := decodeJSON(body, req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	if err := apply(r.Context(), caller, ledgerID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetModule stores the request body as the code module of a kind.
// An empty body clears the module. Controllers only.
//
// URL format: PUT /api/admin/modules/{kind}
//
// Response: api.ModuleSizeResponse.
func (h *Handler) HandleSetModule(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller, module, err := h.readRequest(r, state.MaxModuleSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.service.SetCodeModule(r.Context(), caller, kind, module); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ModuleSizeResponse{Size: len(module)})
}

// HandleFetchModule downloads and stores the code module of a kind. Controllers only.
//
// URL format: POST /api/admin/modules/{kind}/fetch
//
// Request body: api.FetchModuleRequest. Response: api.ModuleSizeResponse.
func (h *Handler) HandleFetchModule(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller, body, err := h.readRequest(r, maxBodySize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req api.FetchModuleRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.URL == "" {
		h.writeError(w, badRequest("url is required"))
		return
	}

	size, err := h.service.SetCodeModuleFromURL(r.Context(), caller, kind, req.URL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ModuleSizeResponse{Size: size})
}

// HandleModuleInfo describes the stored code module of a kind. Controllers only.
//
// URL format: GET /api/admin/modules/{kind}
//
// Response: api.ModuleInfoResponse, or 404 with kind NoCodeStored.
func (h *Handler) HandleModuleInfo(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller, _, err := h.readRequest(r, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	info, err := h.service.CodeModuleInfo(r.Context(), caller, kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.ErrorBody{
			Kind:    provisioning.KindNoCodeStored,
			Message: fmt.Sprintf("no %s module stored", kind),
		}})
		return
	}
	writeJSON(w, http.StatusOK, api.ModuleInfoResponse{ContentID: info.ContentID.String(), Size: info.Size})
}

// HandleGetConfig returns the service configuration.
//
// URL format: GET /api/v1/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	caller, _, err := h.readRequest(r, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cfg, err := h.service.GetConfig(r.Context(), caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleListInstances returns the instances provisioned by the caller.
//
// URL format: GET /api/v1/instances
func (h *Handler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	caller, _, err := h.readRequest(r, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	instances, err := h.service.ListInstances(r.Context(), caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if instances == nil {
		instances = []interfaces.ProvisionedInstance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

// HandlePaymentAccounts returns the caller's escrow account and sponsor spender.
//
// URL format: GET /api/v1/payment-accounts
//
// Response: payment.Accounts.
func (h *Handler) HandlePaymentAccounts(w http.ResponseWriter, r *http.Request) {
	caller, _, err := h.readRequest(r, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	accounts, err := h.service.PaymentAccounts(r.Context(), caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// StatusFor returns the HTTP status reported for an error kind.
func StatusFor(kind string) int {
	switch kind {
	case provisioning.KindBadRequest:
		return http.StatusBadRequest
	case provisioning.KindUnauthorized:
		return http.StatusUnauthorized
	case provisioning.KindPaymentError:
		return http.StatusPaymentRequired
	case provisioning.KindNoCodeStored:
		return http.StatusPreconditionFailed
	case provisioning.KindRegistryFull:
		return http.StatusConflict
	case provisioning.KindAllocationFailed, provisioning.KindInstallFailed, provisioning.KindFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		kind   = provisioning.ErrorKind(err)
		status = StatusFor(kind)
		reqErr *RequestError
	)
	if errors.As(err, &reqErr) {
		kind = provisioning.KindBadRequest
		if reqErr.StatusCode == http.StatusUnauthorized {
			kind = provisioning.KindUnauthorized
		}
		status = reqErr.StatusCode
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err, slog.String("kind", kind))
	} else {
		h.log.Debug("Request rejected", "err", err, slog.String("kind", kind))
	}

	writeJSON(w, status, api.ErrorResponse{Error: api.ErrorBody{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
