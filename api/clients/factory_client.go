package clients

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/ledger-factory-backend/api"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
)

// APIError is an error response returned by the factory.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("factory returned %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// FactoryClient calls the factory API, signing every request with the caller's key.
// It implements api.FactoryProvider and api.AdminProvider.
type FactoryClient struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewFactoryClient creates a client for the factory at baseURL (e.g., "http://localhost:8080").
// A nil key sends anonymous requests.
func NewFactoryClient(baseURL string, key *ecdsa.PrivateKey, timeout ...time.Duration) *FactoryClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &FactoryClient{
		baseURL: baseURL,
		key:     key,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Identity returns the caller identity requests are signed as.
func (c *FactoryClient) Identity() interfaces.Identity {
	if c.key == nil {
		return interfaces.AnonymousIdentity
	}
	return api.IdentityFromKey(&c.key.PublicKey)
}

func (c *FactoryClient) CreateLedger(overrides initargs.LedgerOverrides, method *payment.MethodSpec) (interfaces.InstanceHandle, error) {
	var resp api.InstanceResponse
	err := c.doJSON(http.MethodPost, "/api/v1/ledgers", api.CreateLedgerRequest{Overrides: overrides, Payment: method}, &resp)
	return resp.Handle, err
}

func (c *FactoryClient) CreateIndex(ledgerID interfaces.InstanceHandle, method *payment.MethodSpec) (interfaces.InstanceHandle, error) {
	var resp api.InstanceResponse
	err := c.doJSON(http.MethodPost, "/api/v1/indexes", api.CreateIndexRequest{LedgerID: ledgerID, Payment: method}, &resp)
	return resp.Handle, err
}

func (c *FactoryClient) SetIndexOnLedger(ledgerID, indexID interfaces.InstanceHandle) error {
	return c.doJSON(http.MethodPut, fmt.Sprintf("/api/v1/ledgers/%s/index", ledgerID), api.SetIndexRequest{IndexID: indexID}, nil)
}

func (c *FactoryClient) SetLedgerSymbol(ledgerID interfaces.InstanceHandle, symbol string) error {
	return c.doJSON(http.MethodPut, fmt.Sprintf("/api/v1/ledgers/%s/symbol", ledgerID), api.SetSymbolRequest{Symbol: symbol}, nil)
}

func (c *FactoryClient) SetLedgerName(ledgerID interfaces.InstanceHandle, name string) error {
	return c.doJSON(http.MethodPut, fmt.Sprintf("/api/v1/ledgers/%s/name", ledgerID), api.SetNameRequest{Name: name}, nil)
}

func (c *FactoryClient) GetConfig() (*interfaces.ServiceConfig, error) {
	var cfg interfaces.ServiceConfig
	if err := c.doJSON(http.MethodGet, "/api/v1/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FactoryClient) ListInstances() ([]interfaces.ProvisionedInstance, error) {
	var instances []interfaces.ProvisionedInstance
	if err := c.doJSON(http.MethodGet, "/api/v1/instances", nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// PaymentAccounts returns the escrow account to deposit attached balance into and
// the spender sponsors approve for this caller.
func (c *FactoryClient) PaymentAccounts() (*payment.Accounts, error) {
	var accounts payment.Accounts
	if err := c.doJSON(http.MethodGet, "/api/v1/payment-accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return &accounts, nil
}

// SetCodeModule uploads module as the code module of kind. An empty module clears it.
func (c *FactoryClient) SetCodeModule(kind interfaces.InstanceKind, module []byte) (int, error) {
	var resp api.ModuleSizeResponse
	err := c.do(http.MethodPut, "/api/admin/modules/"+kind.String(), module, "application/octet-stream", &resp)
	return resp.Size, err
}

// FetchCodeModule makes the factory download the code module of kind from url.
func (c *FactoryClient) FetchCodeModule(kind interfaces.InstanceKind, url string) (int, error) {
	var resp api.ModuleSizeResponse
	err := c.doJSON(http.MethodPost, "/api/admin/modules/"+kind.String()+"/fetch", api.FetchModuleRequest{URL: url}, &resp)
	return resp.Size, err
}

func (c *FactoryClient) CodeModuleInfo(kind interfaces.InstanceKind) (*api.ModuleInfoResponse, error) {
	var info api.ModuleInfoResponse
	if err := c.doJSON(http.MethodGet, "/api/admin/modules/"+kind.String(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpgradeLedger re-installs the stored ledger module onto ledgerID. Nil params change no field.
func (c *FactoryClient) UpgradeLedger(ledgerID interfaces.InstanceHandle, params *initargs.LedgerUpgradeParams) error {
	var in any
	if params != nil {
		in = params
	}
	return c.doJSON(http.MethodPost, fmt.Sprintf("/api/admin/ledgers/%s/upgrade", ledgerID), in, nil)
}

func (c *FactoryClient) doJSON(method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.do(method, path, body, "application/json", out)
}

func (c *FactoryClient) do(method, path string, body []byte, contentType string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", contentType)
	}
	if c.key != nil {
		if err := api.SignRequest(req, body, c.key); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil || errResp.Error.Kind == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return &APIError{StatusCode: resp.StatusCode, Kind: errResp.Error.Kind, Message: errResp.Error.Message}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}
