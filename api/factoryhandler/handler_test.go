package factoryhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/ledger-factory-backend/api"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/ruteri/ledger-factory-backend/provisioning"
	"github.com/ruteri/ledger-factory-backend/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateLedger(ctx context.Context, call payment.Call, overrides initargs.LedgerOverrides, method payment.Method) (interfaces.InstanceHandle, error) {
	args := m.Called(ctx, call, overrides, method)
	return args.Get(0).(interfaces.InstanceHandle), args.Error(1)
}

func (m *MockService) CreateIndex(ctx context.Context, call payment.Call, ledgerID interfaces.InstanceHandle, method payment.Method) (interfaces.InstanceHandle, error) {
	args := m.Called(ctx, call, ledgerID, method)
	return args.Get(0).(interfaces.InstanceHandle), args.Error(1)
}

func (m *MockService) PaymentAccounts(ctx context.Context, caller interfaces.Identity) (payment.Accounts, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(payment.Accounts), args.Error(1)
}

func (m *MockService) SetIndexOnLedger(ctx context.Context, caller interfaces.Identity, ledgerID, indexID interfaces.InstanceHandle) error {
	return m.Called(ctx, caller, ledgerID, indexID).Error(0)
}

func (m *MockService) SetLedgerSymbol(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, symbol string) error {
	return m.Called(ctx, caller, ledgerID, symbol).Error(0)
}

func (m *MockService) SetLedgerName(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, name string) error {
	return m.Called(ctx, caller, ledgerID, name).Error(0)
}

func (m *MockService) UpgradeLedger(ctx context.Context, caller interfaces.Identity, ledgerID interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error {
	return m.Called(ctx, caller, ledgerID, params).Error(0)
}

func (m *MockService) SetCodeModule(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind, data []byte) error {
	return m.Called(ctx, caller, kind, data).Error(0)
}

func (m *MockService) SetCodeModuleFromURL(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind, url string) (int, error) {
	args := m.Called(ctx, caller, kind, url)
	return args.Int(0), args.Error(1)
}

func (m *MockService) CodeModuleInfo(ctx context.Context, caller interfaces.Identity, kind interfaces.InstanceKind) (*state.ModuleInfo, error) {
	args := m.Called(ctx, caller, kind)
	info, _ := args.Get(0).(*state.ModuleInfo)
	return info, args.Error(1)
}

func (m *MockService) GetConfig(ctx context.Context, caller interfaces.Identity) (interfaces.ServiceConfig, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(interfaces.ServiceConfig), args.Error(1)
}

func (m *MockService) ListInstances(ctx context.Context, caller interfaces.Identity) ([]interfaces.ProvisionedInstance, error) {
	args := m.Called(ctx, caller)
	instances, _ := args.Get(0).([]interfaces.ProvisionedInstance)
	return instances, args.Error(1)
}

var ledgerHandle = interfaces.InstanceHandle{19: 0x10}

func setup(t *testing.T) (*MockService, http.Handler, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	service := new(MockService)
	mux := chi.NewRouter()
	NewHandler(service, api.NewAuthenticator(api.DefaultSignatureWindow), slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(mux)
	return service, mux, key
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if key != nil {
		require.NoError(t, api.SignRequest(req, body, key))
	}
	return req
}

func serve(mux http.Handler, req *http.Request) *http.Response {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w.Result()
}

func decodeError(t *testing.T, resp *http.Response) api.ErrorBody {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHandleCreateLedger(t *testing.T) {
	service, mux, key := setup(t)
	caller := api.IdentityFromKey(&key.PublicKey)
	symbol := "ABC"

	service.On("CreateLedger", mock.Anything,
		payment.Call{Caller: caller},
		initargs.LedgerOverrides{Symbol: &symbol},
		payment.AttachedBalance{},
	).Return(ledgerHandle, nil).Once()

	body := []byte(`{"overrides":{"symbol":"ABC"}}`)
	resp := serve(mux, signedRequest(t, key, http.MethodPost, "/api/v1/ledgers", body))
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result api.InstanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, ledgerHandle, result.Handle)

	service.AssertExpectations(t)
}

func TestHandleCreateIndex(t *testing.T) {
	service, mux, key := setup(t)
	caller := api.IdentityFromKey(&key.PublicKey)
	indexHandle := interfaces.InstanceHandle{19: 0x11}

	service.On("CreateIndex", mock.Anything,
		mock.MatchedBy(func(call payment.Call) bool { return call.Caller == caller }),
		ledgerHandle,
		payment.CallerAuthorizes{Unit: payment.UnitToken},
	).Return(indexHandle, nil).Once()

	body := []byte(fmt.Sprintf(`{"ledger_id":%q,"payment":{"type":"caller_authorizes","unit":"token"}}`, ledgerHandle.String()))
	resp := serve(mux, signedRequest(t, key, http.MethodPost, "/api/v1/indexes", body))
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result api.InstanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, indexHandle, result.Handle)

	service.AssertExpectations(t)
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"no code", provisioning.ErrNoCodeStored, http.StatusPreconditionFailed, provisioning.KindNoCodeStored},
		{"unauthorized", fmt.Errorf("%w: anonymous caller", provisioning.ErrUnauthorized), http.StatusUnauthorized, provisioning.KindUnauthorized},
		{"payment", &payment.PaymentError{Kind: payment.InsufficientAttached, Required: big.NewInt(2), Available: big.NewInt(1)}, http.StatusPaymentRequired, provisioning.KindPaymentError},
		{"allocation", &provisioning.AllocationFailedError{Err: fmt.Errorf("out of cycles")}, http.StatusBadGateway, provisioning.KindAllocationFailed},
		{"install", &provisioning.InstallFailedError{Handle: ledgerHandle, Err: fmt.Errorf("trap")}, http.StatusBadGateway, provisioning.KindInstallFailed},
		{"registry full", fmt.Errorf("wrapped: %w", state.ErrRegistryFull), http.StatusConflict, provisioning.KindRegistryFull},
		{"internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError, provisioning.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mux, key := setup(t)
			service.On("CreateLedger", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(interfaces.InstanceHandle{}, tt.err).Once()

			resp := serve(mux, signedRequest(t, key, http.MethodPost, "/api/v1/ledgers", nil))
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.Equal(t, tt.err.Error(), body.Message)
		})
	}
}

func TestHandleRejectedRequests(t *testing.T) {
	service, mux, key := setup(t)

	t.Run("invalid signature", func(t *testing.T) {
		req := signedRequest(t, nil, http.MethodGet, "/api/v1/config", nil)
		req.Header.Set(api.CallerSignatureHeader, "0xdeadbeef")
		resp := serve(mux, req)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, provisioning.KindUnauthorized, decodeError(t, resp).Kind)
	})

	t.Run("attached balance header is not accepted", func(t *testing.T) {
		service.On("CreateLedger", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(interfaces.InstanceHandle{}, &payment.PaymentError{
				Kind:      payment.InsufficientAttached,
				Required:  payment.Fee(payment.OpCreateLedger),
				Available: big.NewInt(0),
			}).Once()

		req := signedRequest(t, key, http.MethodPost, "/api/v1/ledgers", nil)
		req.Header.Set("X-Attached-Balance", payment.Fee(payment.OpCreateLedger).String())
		resp := serve(mux, req)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		service.AssertCalled(t, "CreateLedger", mock.Anything, payment.Call{Caller: api.IdentityFromKey(&key.PublicKey)}, mock.Anything, mock.Anything)
	})

	t.Run("replayed request", func(t *testing.T) {
		service.On("GetConfig", mock.Anything, mock.Anything).Return(interfaces.ServiceConfig{}, nil).Once()

		req := signedRequest(t, key, http.MethodGet, "/api/v1/config", nil)
		replay := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		replay.Header = req.Header.Clone()

		resp := serve(mux, req)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = serve(mux, replay)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, provisioning.KindUnauthorized, decodeError(t, resp).Kind)
	})

	t.Run("stale signature", func(t *testing.T) {
		req := signedRequest(t, key, http.MethodGet, "/api/v1/config", nil)
		req.Header.Set(api.CallerTimestampHeader, "1")
		resp := serve(mux, req)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("empty body on a field update", func(t *testing.T) {
		resp := serve(mux, signedRequest(t, key, http.MethodPut, "/api/v1/ledgers/"+ledgerHandle.String()+"/symbol", nil))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown payment method", func(t *testing.T) {
		body := []byte(`{"payment":{"type":"barter"}}`)
		resp := serve(mux, signedRequest(t, key, http.MethodPost, "/api/v1/ledgers", body))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, provisioning.KindBadRequest, decodeError(t, resp).Kind)
	})

	t.Run("unknown field", func(t *testing.T) {
		body := []byte(`{"symbl":"ABC"}`)
		resp := serve(mux, signedRequest(t, key, http.MethodPut, "/api/v1/ledgers/"+ledgerHandle.String()+"/symbol", body))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid ledger id", func(t *testing.T) {
		body := []byte(`{"symbol":"ABC"}`)
		resp := serve(mux, signedRequest(t, key, http.MethodPut, "/api/v1/ledgers/0x1234/symbol", body))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid kind", func(t *testing.T) {
		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/admin/modules/archive", nil))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	service.AssertNotCalled(t, "SetLedgerSymbol", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleLedgerUpdates(t *testing.T) {
	service, mux, key := setup(t)
	caller := api.IdentityFromKey(&key.PublicKey)
	indexHandle := interfaces.InstanceHandle{19: 0x11}
	base := "/api/v1/ledgers/" + ledgerHandle.String()

	service.On("SetLedgerSymbol", mock.Anything, caller, ledgerHandle, "ABC").Return(nil).Once()
	service.On("SetLedgerName", mock.Anything, caller, ledgerHandle, "Alphabet").Return(nil).Once()
	service.On("SetIndexOnLedger", mock.Anything, caller, ledgerHandle, indexHandle).Return(nil).Once()

	requests := []struct {
		path string
		body string
	}{
		{base + "/symbol", `{"symbol":"ABC"}`},
		{base + "/name", `{"name":"Alphabet"}`},
		{base + "/index", fmt.Sprintf(`{"index_id":%q}`, indexHandle.String())},
	}
	for _, r := range requests {
		resp := serve(mux, signedRequest(t, key, http.MethodPut, r.path, []byte(r.body)))
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, r.path)
	}

	service.AssertExpectations(t)
}

func TestHandleUpgradeLedger(t *testing.T) {
	service, mux, key := setup(t)
	caller := api.IdentityFromKey(&key.PublicKey)
	fee := uint64(5)

	service.On("UpgradeLedger", mock.Anything, caller, ledgerHandle, &initargs.LedgerUpgradeParams{TransferFee: &fee}).
		Return(nil).Once()

	service.On("UpgradeLedger", mock.Anything, caller, ledgerHandle, (*initargs.LedgerUpgradeParams)(nil)).
		Return(nil).Once()

	path := "/api/admin/ledgers/" + ledgerHandle.String() + "/upgrade"

	t.Run("with params", func(t *testing.T) {
		resp := serve(mux, signedRequest(t, key, http.MethodPost, path, []byte(`{"transfer_fee":5}`)))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("empty body keeps every field", func(t *testing.T) {
		resp := serve(mux, signedRequest(t, key, http.MethodPost, path, nil))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	service.AssertExpectations(t)
}

func TestHandleModules(t *testing.T) {
	service, mux, key := setup(t)
	caller := api.IdentityFromKey(&key.PublicKey)
	module := []byte("\x00asm-ledger")

	t.Run("upload", func(t *testing.T) {
		service.On("SetCodeModule", mock.Anything, caller, interfaces.KindLedger, module).Return(nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodPut, "/api/admin/modules/ledger", module))
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result api.ModuleSizeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, len(module), result.Size)
	})

	t.Run("fetch", func(t *testing.T) {
		service.On("SetCodeModuleFromURL", mock.Anything, caller, interfaces.KindIndex, "https://example.com/index.wasm").
			Return(1234, nil).Once()

		body := []byte(`{"url":"https://example.com/index.wasm"}`)
		resp := serve(mux, signedRequest(t, key, http.MethodPost, "/api/admin/modules/index/fetch", body))
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result api.ModuleSizeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, 1234, result.Size)
	})

	t.Run("info", func(t *testing.T) {
		id := interfaces.ComputeID(module)
		service.On("CodeModuleInfo", mock.Anything, caller, interfaces.KindLedger).
			Return(&state.ModuleInfo{ContentID: id, Size: len(module)}, nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/admin/modules/ledger", nil))
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result api.ModuleInfoResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, api.ModuleInfoResponse{ContentID: id.String(), Size: len(module)}, result)
	})

	t.Run("info without module", func(t *testing.T) {
		service.On("CodeModuleInfo", mock.Anything, caller, interfaces.KindIndex).Return(nil, nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/admin/modules/index", nil))
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, provisioning.KindNoCodeStored, decodeError(t, resp).Kind)
	})

	service.AssertExpectations(t)
}

func TestHandleQueries(t *testing.T) {
	service, mux, key := setup(t)
	caller := api.IdentityFromKey(&key.PublicKey)

	t.Run("config", func(t *testing.T) {
		cfg := interfaces.ServiceConfig{PaymentLedgerID: interfaces.InstanceHandle{19: 0x02}}
		service.On("GetConfig", mock.Anything, caller).Return(cfg, nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/v1/config", nil))
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result interfaces.ServiceConfig
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, cfg, result)
	})

	t.Run("payment accounts", func(t *testing.T) {
		accounts := payment.AccountsFor(interfaces.Identity{19: 0x01}, caller)
		service.On("PaymentAccounts", mock.Anything, caller).Return(accounts, nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/v1/payment-accounts", nil))
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result payment.Accounts
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, accounts, result)
	})

	t.Run("empty instance list", func(t *testing.T) {
		service.On("ListInstances", mock.Anything, caller).Return(nil, nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/v1/instances", nil))
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(body))
	})

	t.Run("instance list", func(t *testing.T) {
		instances := []interfaces.ProvisionedInstance{{Handle: ledgerHandle, Kind: interfaces.KindLedger, Installed: true}}
		service.On("ListInstances", mock.Anything, caller).Return(instances, nil).Once()

		resp := serve(mux, signedRequest(t, key, http.MethodGet, "/api/v1/instances", nil))
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`[{"handle":%q,"kind":"ledger","installed":true}]`, ledgerHandle.String()), string(body))
	})

	service.AssertExpectations(t)
}
