package core

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfcare/internal/apiclient"
	"selfcare/internal/billing"
	"selfcare/internal/billing/billingtest"
	"selfcare/internal/kvstore"
	"selfcare/internal/model"
)

var (
	contractC1 = model.Contract{ID: "c1", Number: "123", Balance: 45.5, Status: model.ContractActive, AccountsCount: 2}
	contractC2 = model.Contract{ID: "c2", Number: "456", Balance: 10, Status: model.ContractActive, AccountsCount: 1}
	accountA1  = model.Account{ID: "a1", ContractID: "c1", TariffName: "Home 100", Status: "active", AgentType: model.AgentRadius}
	accountA2  = model.Account{ID: "a2", ContractID: "c1", TariffName: "TV Basic", Status: "active", AgentType: model.AgentTVIP}
	accountA3  = model.Account{ID: "a3", ContractID: "c2", TariffName: "Cam", Status: "active", AgentType: model.AgentUsBox}
)

func newIntegration(t *testing.T) (*Orchestrator, *billingtest.Server, kvstore.Store) {
	t.Helper()
	srv := billingtest.New(t)
	store := kvstore.NewMemoryStore()
	ctx := context.Background()
	client := apiclient.New(ctx, apiclient.Config{Store: store, Logger: zerolog.Nop()})
	require.NoError(t, client.SetBaseURL(ctx, srv.URL, false))
	o := New(billing.New(client, store), store, Options{Logger: zerolog.Nop()})
	return o, srv, store
}

func newWithFake(t *testing.T) (*Orchestrator, *fakeBilling, kvstore.Store) {
	t.Helper()
	f := newFakeBilling()
	f.contracts = []model.Contract{contractC1, contractC2}
	f.accounts = []model.Account{accountA1, accountA2, accountA3}
	store := kvstore.NewMemoryStore()
	return New(f, store, Options{Logger: zerolog.Nop()}), f, store
}

func TestLoginLoadsContractsAndAccounts(t *testing.T) {
	o, srv, _ := newIntegration(t)
	srv.SetContracts(contractC1)
	srv.SetAccounts(accountA1, accountA2)

	require.NoError(t, o.Login(context.Background(), "user", "pass"))

	snap := o.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	require.NotNil(t, snap.View.Contract)
	assert.Equal(t, "123", snap.View.Contract.Number)
	assert.Len(t, snap.View.Accounts, 2)
	require.NotNil(t, snap.View.Account)
	assert.Equal(t, "a1", snap.View.Account.ID)
	assert.False(t, snap.LoginPrompt.Visible)
	assert.Equal(t, DefaultDisplayName, snap.UserName)

	for _, r := range srv.Requests()[1:] {
		assert.Equal(t, "Bearer "+billingtest.DefaultToken, r.Authorization, r.Path)
	}
}

func TestLoginTrimsCredentials(t *testing.T) {
	o, f, _ := newWithFake(t)
	require.NoError(t, o.Login(context.Background(), "  user ", " pass  "))
	token, _, _ := f.GetToken(context.Background())
	assert.Equal(t, "tok:user:pass", token)
	assert.Zero(t, f.setBaseCalls)
}

func TestLoginRejectsEmptyCredentialsLocally(t *testing.T) {
	o, f, _ := newWithFake(t)

	err := o.Login(context.Background(), "user", "   ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Zero(t, f.loginCalls)

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.True(t, snap.LoginPrompt.Visible)
	assert.Equal(t, MsgEmptyCredentials, snap.LoginPrompt.Error)
}

func TestLoginFailureSurfacesMessage(t *testing.T) {
	o, srv, store := newIntegration(t)

	err := o.Login(context.Background(), "user", "wrong")
	require.Error(t, err)
	assert.True(t, apiclient.IsUnauthorized(err))

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.True(t, snap.LoginPrompt.Visible)
	assert.Equal(t, MsgLoginFailed, snap.LoginPrompt.Error)
	assert.Equal(t, 0, srv.Count(http.MethodGet, "/contracts"))

	_, ok, _ := store.Get(context.Background(), kvstore.KeyAuthToken)
	assert.False(t, ok)
}

func TestResumeWithoutTokenAsksForLogin(t *testing.T) {
	o, f, _ := newWithFake(t)

	require.NoError(t, o.Resume(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.True(t, snap.LoginPrompt.Visible)
	assert.Zero(t, f.contractCalls)
	assert.ErrorIs(t, o.CloseLoginPrompt(), ErrLoginRequired)
}

func TestResumeWithStoredTokenLoads(t *testing.T) {
	o, srv, store := newIntegration(t)
	srv.SetContracts(contractC1)
	srv.SetAccounts(accountA1)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, kvstore.KeyAuthToken, billingtest.DefaultToken))

	require.NoError(t, o.Resume(ctx))

	snap := o.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Len(t, snap.Contracts, 1)
	assert.NoError(t, o.CloseLoginPrompt())
}

func TestResumeWithRejectedTokenEndsSession(t *testing.T) {
	o, srv, store := newIntegration(t)
	srv.SetContracts(contractC1)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, kvstore.KeyAuthToken, "expired"))

	err := o.Resume(ctx)
	require.Error(t, err)
	assert.True(t, apiclient.IsUnauthorized(err))

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.True(t, snap.LoginPrompt.Visible)
	assert.Empty(t, snap.Contracts)

	_, ok, _ := store.Get(ctx, kvstore.KeyAuthToken)
	assert.False(t, ok)
}

func TestDisplayNamePrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("contract client name wins and is persisted", func(t *testing.T) {
		o, f, store := newWithFake(t)
		require.NoError(t, store.Set(ctx, kvstore.KeyDisplayName, "Cached Name"))
		f.contracts[0].ClientName = "Иванов И.И."

		require.NoError(t, o.Login(ctx, "user", "pass"))
		assert.Equal(t, "Иванов И.И.", o.Snapshot().UserName)
		stored, _, _ := store.Get(ctx, kvstore.KeyDisplayName)
		assert.Equal(t, "Иванов И.И.", stored)
	})

	t.Run("cached name used when contract has none", func(t *testing.T) {
		o, _, store := newWithFake(t)
		require.NoError(t, store.Set(ctx, kvstore.KeyDisplayName, "Cached Name"))

		require.NoError(t, o.Login(ctx, "user", "pass"))
		assert.Equal(t, "Cached Name", o.Snapshot().UserName)
	})

	t.Run("fallback label when nothing is known", func(t *testing.T) {
		o, f, store := newWithFake(t)
		f.contracts = nil

		require.NoError(t, o.Login(ctx, "user", "pass"))
		assert.Equal(t, DefaultDisplayName, o.Snapshot().UserName)
		stored, ok, _ := store.Get(ctx, kvstore.KeyDisplayName)
		require.True(t, ok)
		assert.Equal(t, DefaultDisplayName, stored)
	})
}

func TestInitialLoadIsAllOrNothing(t *testing.T) {
	o, f, _ := newWithFake(t)
	f.accountsErr = &apiclient.StatusError{Method: http.MethodGet, Path: "/accounts", StatusCode: http.StatusInternalServerError}

	err := o.Login(context.Background(), "user", "pass")
	require.Error(t, err)

	snap := o.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.False(t, snap.Loaded)
	assert.Empty(t, snap.Contracts)
	assert.Empty(t, snap.Accounts)
	assert.Equal(t, MsgLoadFailed, snap.Notice)
}

func TestRefreshFailureKeepsPreviousData(t *testing.T) {
	o, f, _ := newWithFake(t)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))
	require.Len(t, o.Snapshot().Contracts, 2)

	f.set(func(f *fakeBilling) {
		f.contracts = []model.Contract{contractC1}
		f.contractsErr = &apiclient.TransportError{Method: http.MethodGet, Path: "/contracts", Err: errors.New("connection refused")}
	})
	err := o.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, apiclient.IsTransport(err))

	snap := o.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Len(t, snap.Contracts, 2)
	assert.Len(t, snap.Accounts, 3)
	assert.False(t, snap.Refreshing)
	assert.Equal(t, MsgRefreshFailed, snap.Notice)
	assert.NotEqual(t, MsgLoadFailed, snap.Notice)
}

func TestRefreshSwapsInNewLists(t *testing.T) {
	o, srv, _ := newIntegration(t)
	srv.SetContracts(contractC1, contractC2)
	srv.SetAccounts(accountA1, accountA2, accountA3)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))
	_, err := o.SelectContract(1)
	require.NoError(t, err)

	srv.SetContracts(contractC1)
	srv.SetAccounts(accountA1)
	require.NoError(t, o.Refresh(ctx))

	snap := o.Snapshot()
	assert.Len(t, snap.Contracts, 1)
	assert.Equal(t, Selection{}, snap.Selection)
	require.NotNil(t, snap.View.Contract)
	assert.Equal(t, "c1", snap.View.Contract.ID)
}

func TestRefreshUnauthorizedEndsSession(t *testing.T) {
	o, srv, store := newIntegration(t)
	srv.SetContracts(contractC1)
	srv.SetAccounts(accountA1)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))

	srv.RevokeToken()
	err := o.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, apiclient.IsUnauthorized(err))

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.True(t, snap.LoginPrompt.Visible)
	assert.Empty(t, snap.Contracts)
	assert.Equal(t, MsgSessionExpired, snap.Notice)

	_, ok, _ := store.Get(ctx, kvstore.KeyAuthToken)
	assert.False(t, ok)
}

func TestRefreshRequiresReadySession(t *testing.T) {
	o, f, _ := newWithFake(t)
	assert.ErrorIs(t, o.Refresh(context.Background()), ErrNotReady)
	assert.Zero(t, f.contractCalls)
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	o, f, _ := newWithFake(t)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))

	gate := make(chan struct{})
	f.set(func(f *fakeBilling) {
		f.gates = append(f.gates, gate)
		f.contracts = []model.Contract{contractC1, contractC2}
	})
	slow := make(chan error, 1)
	go func() { slow <- o.Refresh(ctx) }()
	<-f.entered

	f.set(func(f *fakeBilling) { f.contracts = []model.Contract{contractC2} })
	require.NoError(t, o.Refresh(ctx))

	close(gate)
	assert.ErrorIs(t, <-slow, ErrStaleLoad)

	snap := o.Snapshot()
	require.Len(t, snap.Contracts, 1)
	assert.Equal(t, "c2", snap.Contracts[0].ID)
	assert.False(t, snap.Refreshing)
}

func TestLogoutDiscardsInFlightLoad(t *testing.T) {
	o, f, _ := newWithFake(t)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))

	gate := make(chan struct{})
	f.set(func(f *fakeBilling) { f.gates = append(f.gates, gate) })
	slow := make(chan error, 1)
	go func() { slow <- o.Refresh(ctx) }()
	<-f.entered

	require.NoError(t, o.Logout(ctx))
	close(gate)
	assert.ErrorIs(t, <-slow, ErrStaleLoad)

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.Empty(t, snap.Contracts)
	assert.True(t, snap.LoginPrompt.Visible)
	token, _, _ := f.GetToken(ctx)
	assert.Empty(t, token)
}

func TestUnauthorizedLoadAfterLogoutStaysQuiet(t *testing.T) {
	o, f, _ := newWithFake(t)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))

	gate := make(chan struct{})
	f.set(func(f *fakeBilling) {
		f.gates = append(f.gates, gate)
		f.contractsErr = &apiclient.UnauthorizedError{Method: http.MethodGet, Path: "/contracts"}
	})
	slow := make(chan error, 1)
	go func() { slow <- o.Refresh(ctx) }()
	<-f.entered

	require.NoError(t, o.Logout(ctx))
	close(gate)
	assert.ErrorIs(t, <-slow, ErrStaleLoad)

	snap := o.Snapshot()
	assert.Equal(t, PhaseUnauthenticated, snap.Phase)
	assert.Empty(t, snap.Notice)
}

func TestSelectionThroughOrchestrator(t *testing.T) {
	o, _, _ := newWithFake(t)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))

	sel, err := o.SelectAccount(1)
	require.NoError(t, err)
	assert.Equal(t, 1, sel.AccountIndex)

	sel, err = o.SelectContract(1)
	require.NoError(t, err)
	assert.Equal(t, Selection{ContractIndex: 1, AccountIndex: 0}, sel)

	snap := o.Snapshot()
	require.Len(t, snap.View.Accounts, 1)
	assert.Equal(t, "c2", snap.View.Accounts[0].ContractID)

	_, err = o.SelectAccount(1)
	assert.ErrorIs(t, err, ErrSelectionOutOfRange)
	_, err = o.SelectContract(5)
	assert.ErrorIs(t, err, ErrSelectionOutOfRange)
	assert.Equal(t, Selection{ContractIndex: 1}, o.Snapshot().Selection)
}

func TestPeriodicServicesFailureSurfacesMessage(t *testing.T) {
	o, f, _ := newWithFake(t)
	ctx := context.Background()
	require.NoError(t, o.Login(ctx, "user", "pass"))

	f.set(func(f *fakeBilling) {
		f.services = []model.PeriodicService{{ID: "s1", TotalCost: 10, Quantity: 1}}
	})
	services, err := o.PeriodicServices(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, services, 1)

	f.set(func(f *fakeBilling) {
		f.servicesErr = &apiclient.TimeoutError{Method: http.MethodGet, Path: "/accounts/a1/services"}
	})
	_, err = o.PeriodicServices(ctx, "a1")
	require.Error(t, err)
	assert.True(t, apiclient.IsTimeout(err))
	snap := o.Snapshot()
	assert.Equal(t, MsgServicesFailed, snap.Notice)
	assert.Len(t, snap.Contracts, 2)

	_, err = o.PeriodicServices(ctx, " ")
	assert.True(t, IsValidation(err))
}

func TestSetBaseURLPersists(t *testing.T) {
	o, srv, store := newIntegration(t)
	ctx := context.Background()

	got, err := o.SetBaseURL(ctx, "https://billing.example.net:443/v1?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.example.net", got)
	assert.Equal(t, got, o.BaseURL())

	stored, ok, _ := store.Get(ctx, kvstore.KeyBaseURL)
	require.True(t, ok)
	assert.Equal(t, got, stored)
	assert.NotEqual(t, srv.URL, o.Snapshot().BaseURL)
}
