package provisioning

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/ledger-factory-backend/fetch"
	"github.com/ruteri/ledger-factory-backend/initargs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/ruteri/ledger-factory-backend/payment"
	"github.com/ruteri/ledger-factory-backend/platform"
	"github.com/ruteri/ledger-factory-backend/state"
	"github.com/ruteri/ledger-factory-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	serviceID    = interfaces.Identity{0x5E}
	payerID      = interfaces.Identity{0xAA}
	controllerID = interfaces.Identity{0xC0}
	tokenLedger  = interfaces.InstanceHandle{0x70}

	ledgerModule = []byte("\x00asm-ledger")
	indexModule  = []byte("\x00asm-index")
)

type harness struct {
	state    *state.State
	modules  *state.CodeModules
	platform *platform.SimulatedPlatform
	token    *payment.MemoryLedger
	balance  *payment.MemoryLedger
	codec    *initargs.CBORCodec
	pipeline *Pipeline
	service  *Service
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := state.NewInMemorySlotStore()
	require.NoError(t, err)
	st := state.New(store, testLogger())
	t.Cleanup(func() { st.Close() })

	ledgerID := tokenLedger
	require.NoError(t, st.Config().Install(ctx, state.ServiceArgs{Init: &state.InitArgs{PaymentLedgerID: &ledgerID}}))

	backend, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	modules := state.NewCodeModules(st, backend, fetch.NewHTTPFetcher(5*time.Second, testLogger()))

	codec, err := initargs.NewCBORCodec()
	require.NoError(t, err)

	sim := platform.NewSimulatedPlatform(MinFundingForCreation, codec, testLogger())
	token := payment.NewMemoryLedger()
	balance := payment.NewMemoryLedger()

	pipeline := NewPipeline(PipelineConfig{
		Service:       serviceID,
		Platform:      sim,
		Modules:       modules,
		Registry:      st.Registry(),
		Codec:         codec,
		FundingMargin: big.NewInt(1_000),
		Log:           testLogger(),
	})

	guard := payment.NewGuard(serviceID, balance, payment.StaticResolver{tokenLedger: token}, st.Config(), testLogger())
	service := NewService(pipeline, guard, st.Config(), modules, st.Registry(), []interfaces.Identity{controllerID}, testLogger())

	return &harness{
		state:    st,
		modules:  modules,
		platform: sim,
		token:    token,
		balance:  balance,
		codec:    codec,
		pipeline: pipeline,
		service:  service,
	}
}

func (h *harness) storeModules(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.service.SetCodeModule(ctx, controllerID, interfaces.KindLedger, ledgerModule))
	require.NoError(t, h.service.SetCodeModule(ctx, controllerID, interfaces.KindIndex, indexModule))
}

func (h *harness) fundPayer(amount int64) {
	h.token.Mint(interfaces.Account{Owner: payerID}, big.NewInt(amount))
	h.token.Approve(interfaces.Account{Owner: payerID}, interfaces.Account{Owner: serviceID}, big.NewInt(amount))
}

// attached deposits one creation fee into the payer's escrow account.
func (h *harness) attached() payment.Call {
	h.balance.Mint(payment.EscrowAccount(serviceID, payerID), payment.Fee(payment.OpCreateLedger))
	return payment.Call{Caller: payerID}
}

func TestProvisionWithoutModule(t *testing.T) {
	for _, kind := range interfaces.AllInstanceKinds {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)

			_, err := h.pipeline.Provision(ctx, ProvisionRequest{Kind: kind, Payer: payerID, LedgerID: interfaces.InstanceHandle{1}})
			assert.ErrorIs(t, err, ErrNoCodeStored)
			assert.Equal(t, KindNoCodeStored, ErrorKind(err))
			assert.Equal(t, 0, h.platform.InstanceCount(), "no allocation is attempted")

			list, err := h.state.Registry().List(ctx, payerID)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestProvisionAllocationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.storeModules(t)

	mockPlatform := &platform.MockPlatform{}
	rejection := &platform.Error{Op: "create canister", Code: platform.CodeInsufficientFunds, Message: "out of cycles"}
	mockPlatform.On("CreateInstance", mock.Anything, interfaces.InstanceSettings{Controllers: []interfaces.Identity{serviceID, payerID}}, mock.Anything).
		Return(interfaces.InstanceHandle{}, rejection).Once()

	p := NewPipeline(PipelineConfig{
		Service:  serviceID,
		Platform: mockPlatform,
		Modules:  h.modules,
		Registry: h.state.Registry(),
		Codec:    h.codec,
		Log:      testLogger(),
	})

	_, err := p.Provision(ctx, ProvisionRequest{Kind: interfaces.KindLedger, Payer: payerID})
	var allocErr *AllocationFailedError
	require.True(t, errors.As(err, &allocErr))
	assert.ErrorIs(t, err, rejection)
	assert.Contains(t, err.Error(), "Failed to create canister: 4 - out of cycles")

	list, err := h.state.Registry().List(ctx, payerID)
	require.NoError(t, err)
	assert.Empty(t, list)

	mockPlatform.AssertExpectations(t)
	mockPlatform.AssertNotCalled(t, "InstallCode", mock.Anything, mock.Anything)
}

func TestProvisionFunding(t *testing.T) {
	h := newHarness(t)
	h.storeModules(t)

	handle, err := h.pipeline.Provision(context.Background(), ProvisionRequest{Kind: interfaces.KindLedger, Payer: payerID})
	require.NoError(t, err)

	inst, ok := h.platform.Instance(handle)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(500_000_001_000), inst.Funding)
	assert.Equal(t, []interfaces.Identity{serviceID, payerID}, inst.Controllers)
	assert.Equal(t, ledgerModule, inst.Module)
}

func TestProvisionInstallFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.storeModules(t)

	h.platform.FailInstalls(&platform.Error{Op: "install code", Code: 5, Message: "subnet busy"})
	failed, err := h.pipeline.Provision(ctx, ProvisionRequest{Kind: interfaces.KindLedger, Payer: payerID})
	var installErr *InstallFailedError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, KindInstallFailed, ErrorKind(err))
	assert.Equal(t, failed, installErr.Handle)

	list, err := h.state.Registry().List(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ProvisionedInstance{{Handle: failed, Kind: interfaces.KindLedger, Installed: false}}, list)

	h.platform.FailInstalls(nil)
	handle, err := h.pipeline.Provision(ctx, ProvisionRequest{Kind: interfaces.KindLedger, Payer: payerID})
	require.NoError(t, err)

	list, err = h.state.Registry().List(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ProvisionedInstance{
		{Handle: failed, Kind: interfaces.KindLedger, Installed: false},
		{Handle: handle, Kind: interfaces.KindLedger, Installed: true},
	}, list, "the retry records its own handle once")
}

type failingCodec struct {
	initargs.Codec
}

func (failingCodec) Marshal(v any) ([]byte, error) {
	return nil, errors.New("unsupported value")
}

func TestProvisionEncodingFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.storeModules(t)

	p := NewPipeline(PipelineConfig{
		Service:  serviceID,
		Platform: h.platform,
		Modules:  h.modules,
		Registry: h.state.Registry(),
		Codec:    failingCodec{h.codec},
		Log:      testLogger(),
	})

	handle, err := p.Provision(ctx, ProvisionRequest{Kind: interfaces.KindLedger, Payer: payerID})
	var encErr *InitArgsEncodingError
	require.True(t, errors.As(err, &encErr))

	list, err := h.state.Registry().List(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ProvisionedInstance{{Handle: handle, Kind: interfaces.KindLedger}}, list)
}

func TestReconfigure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	t.Run("requires the ledger module", func(t *testing.T) {
		err := h.service.SetLedgerSymbol(ctx, payerID, interfaces.InstanceHandle{1}, "ABC")
		assert.ErrorIs(t, err, ErrNoCodeStored)
	})

	h.storeModules(t)
	ledger, err := h.service.CreateLedger(ctx, h.attached(), initargs.LedgerOverrides{}, nil)
	require.NoError(t, err)

	before, ok := h.platform.LedgerState(ledger)
	require.True(t, ok)

	t.Run("symbol change leaves other fields untouched", func(t *testing.T) {
		require.NoError(t, h.service.SetLedgerSymbol(ctx, payerID, ledger, "ABC"))

		after, ok := h.platform.LedgerState(ledger)
		require.True(t, ok)
		assert.Equal(t, "ABC", after.TokenSymbol)

		after.TokenSymbol = before.TokenSymbol
		assert.Equal(t, before, after)
	})

	t.Run("name change", func(t *testing.T) {
		require.NoError(t, h.service.SetLedgerName(ctx, payerID, ledger, "Alphabet"))
		after, _ := h.platform.LedgerState(ledger)
		assert.Equal(t, "Alphabet", after.TokenName)
		assert.Equal(t, "ABC", after.TokenSymbol)
	})

	t.Run("registry is not touched", func(t *testing.T) {
		list, err := h.state.Registry().List(ctx, payerID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("exactly one field", func(t *testing.T) {
		symbol, name := "A", "B"
		err := h.pipeline.Reconfigure(ctx, ledger, LedgerFieldUpdate{Symbol: &symbol, Name: &name})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		err = h.pipeline.Reconfigure(ctx, ledger, LedgerFieldUpdate{})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("unknown instance", func(t *testing.T) {
		err := h.service.SetLedgerSymbol(ctx, payerID, interfaces.InstanceHandle{0xEE}, "X")
		var installErr *InstallFailedError
		assert.True(t, errors.As(err, &installErr))
	})
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.storeModules(t)

	ledger, err := h.service.CreateLedger(ctx, h.attached(), initargs.LedgerOverrides{}, nil)
	require.NoError(t, err)

	index, err := h.service.CreateIndex(ctx, h.attached(), ledger, payment.AttachedBalance{})
	require.NoError(t, err)

	require.NoError(t, h.service.SetIndexOnLedger(ctx, payerID, ledger, index))

	list, err := h.service.ListInstances(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ProvisionedInstance{
		{Handle: ledger, Kind: interfaces.KindLedger, Installed: true},
		{Handle: index, Kind: interfaces.KindIndex, Installed: true},
	}, list)

	ledgerState, ok := h.platform.LedgerState(ledger)
	require.True(t, ok)
	require.NotNil(t, ledgerState.IndexID)
	assert.Equal(t, index, *ledgerState.IndexID)
	assert.Equal(t, initargs.DefaultTokenSymbol, ledgerState.TokenSymbol)
	assert.Equal(t, interfaces.Account{Owner: payerID}, ledgerState.MintingAccount)

	indexInst, ok := h.platform.Instance(index)
	require.True(t, ok)
	assert.Equal(t, ledger, indexInst.Index.LedgerID)
}

func TestAdmission(t *testing.T) {
	ctx := context.Background()

	t.Run("token payment denied without funds", func(t *testing.T) {
		h := newHarness(t)
		h.storeModules(t)
		h.token.Approve(interfaces.Account{Owner: payerID}, interfaces.Account{Owner: serviceID}, payment.Fee(payment.OpCreateLedger))

		_, err := h.service.CreateLedger(ctx, payment.Call{Caller: payerID}, initargs.LedgerOverrides{}, payment.CallerAuthorizes{Unit: payment.UnitToken})
		var paymentErr *payment.PaymentError
		require.True(t, errors.As(err, &paymentErr))
		assert.Equal(t, payment.InsufficientFunds, paymentErr.Kind)
		assert.Equal(t, KindPaymentError, ErrorKind(err))

		assert.Equal(t, 0, h.platform.InstanceCount())
		list, err := h.service.ListInstances(ctx, payerID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("token payment accepted", func(t *testing.T) {
		h := newHarness(t)
		h.storeModules(t)
		h.fundPayer(2_000_000_000_000)

		_, err := h.service.CreateLedger(ctx, payment.Call{Caller: payerID}, initargs.LedgerOverrides{}, payment.CallerAuthorizes{Unit: payment.UnitToken})
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(900_000_000_000), h.token.BalanceOf(interfaces.Account{Owner: payerID}))
		assert.Equal(t, payment.Fee(payment.OpCreateLedger), h.token.BalanceOf(interfaces.Account{Owner: serviceID}))
	})

	t.Run("fee is kept when provisioning fails later", func(t *testing.T) {
		h := newHarness(t)
		h.fundPayer(2_000_000_000_000)

		_, err := h.service.CreateLedger(ctx, payment.Call{Caller: payerID}, initargs.LedgerOverrides{}, payment.CallerAuthorizes{Unit: payment.UnitToken})
		assert.ErrorIs(t, err, ErrNoCodeStored)
		assert.Equal(t, big.NewInt(900_000_000_000), h.token.BalanceOf(interfaces.Account{Owner: payerID}))
	})

	t.Run("attached balance must be deposited", func(t *testing.T) {
		h := newHarness(t)
		h.storeModules(t)
		h.balance.Mint(interfaces.Account{Owner: payerID}, payment.Fee(payment.OpCreateLedger))

		_, err := h.service.CreateLedger(ctx, payment.Call{Caller: payerID}, initargs.LedgerOverrides{}, nil)
		var paymentErr *payment.PaymentError
		require.True(t, errors.As(err, &paymentErr))
		assert.Equal(t, payment.InsufficientAttached, paymentErr.Kind)
		assert.Equal(t, 0, h.platform.InstanceCount())
		assert.Zero(t, h.balance.BalanceOf(interfaces.Account{Owner: serviceID}).Sign())
	})

	t.Run("sponsor pays only for the caller it named", func(t *testing.T) {
		h := newHarness(t)
		h.storeModules(t)
		sponsor := interfaces.Account{Owner: interfaces.Identity{0x50}}
		stranger := interfaces.Identity{0xBB}
		fee := payment.Fee(payment.OpCreateLedger)
		h.balance.Mint(sponsor, new(big.Int).Mul(fee, big.NewInt(2)))
		h.balance.Approve(sponsor, payment.SponsorSpender(serviceID, payerID), fee)

		method := payment.SponsorAuthorizes{Unit: payment.UnitBalance, Sponsor: sponsor}
		_, err := h.service.CreateLedger(ctx, payment.Call{Caller: stranger}, initargs.LedgerOverrides{}, method)
		var paymentErr *payment.PaymentError
		require.True(t, errors.As(err, &paymentErr))
		assert.Equal(t, payment.InsufficientAllowance, paymentErr.Kind)
		assert.Equal(t, 0, h.platform.InstanceCount())
		assert.Equal(t, new(big.Int).Mul(fee, big.NewInt(2)), h.balance.BalanceOf(sponsor))

		_, err = h.service.CreateLedger(ctx, payment.Call{Caller: payerID}, initargs.LedgerOverrides{}, method)
		require.NoError(t, err)
		assert.Equal(t, fee, h.balance.BalanceOf(sponsor))
	})

	t.Run("payment accounts", func(t *testing.T) {
		h := newHarness(t)
		accounts, err := h.service.PaymentAccounts(ctx, payerID)
		require.NoError(t, err)
		assert.Equal(t, payment.EscrowAccount(serviceID, payerID), accounts.Escrow)
		assert.Equal(t, payment.SponsorSpender(serviceID, payerID), accounts.SponsorSpender)

		_, err = h.service.PaymentAccounts(ctx, interfaces.AnonymousIdentity)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("anonymous callers are rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.service.CreateLedger(ctx, payment.Call{}, initargs.LedgerOverrides{}, nil)
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = h.service.GetConfig(ctx, interfaces.AnonymousIdentity)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestCodeModuleAccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.service.SetCodeModule(ctx, payerID, interfaces.KindLedger, ledgerModule)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.service.SetCodeModuleFromURL(ctx, payerID, interfaces.KindLedger, "http://example.invalid")
	assert.ErrorIs(t, err, ErrUnauthorized)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ledger.wasm" {
			w.Write(ledgerModule)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	size, err := h.service.SetCodeModuleFromURL(ctx, controllerID, interfaces.KindLedger, srv.URL+"/ledger.wasm")
	require.NoError(t, err)
	assert.Equal(t, len(ledgerModule), size)

	_, err = h.service.SetCodeModuleFromURL(ctx, controllerID, interfaces.KindLedger, srv.URL+"/broken")
	assert.Equal(t, KindFetchFailed, ErrorKind(err))

	info, err := h.service.CodeModuleInfo(ctx, controllerID, interfaces.KindLedger)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(ledgerModule), info.ContentID)

	stored, err := h.modules.Get(ctx, interfaces.KindLedger)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(ledgerModule, stored))

	cfg, err := h.service.GetConfig(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, tokenLedger, cfg.PaymentLedgerID)
}
