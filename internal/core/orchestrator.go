// Package core turns billing responses into the state a UI renders and
// drives the session lifecycle: login, initial load, silent refresh,
// logout, and the promise-payment prompt.
package core

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"selfcare/internal/apiclient"
	"selfcare/internal/kvstore"
	"selfcare/internal/metrics"
	"selfcare/internal/model"
)

type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseLoading         Phase = "loading"
	PhaseReady           Phase = "ready"
)

const (
	loadInitial = "initial"
	loadRefresh = "refresh"
)

// Billing is the subset of the billing API the orchestrator drives.
type Billing interface {
	BaseURL() string
	SetBaseURL(ctx context.Context, raw string, persist bool) error
	Login(ctx context.Context, username, password string) (model.LoginResponse, error)
	Logout(ctx context.Context) error
	GetToken(ctx context.Context) (string, bool, error)
	GetContracts(ctx context.Context) ([]model.Contract, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccountPeriodicServices(ctx context.Context, accountID string) ([]model.PeriodicService, error)
	ActivatePromisePayment(ctx context.Context, contractID string, req model.PromisePaymentRequest) (model.PromisePaymentResponse, error)
}

type Options struct {
	PromiseMin           float64
	PromiseMax           float64
	PromiseInitialAmount string
	Logger               zerolog.Logger
}

type LoginPrompt struct {
	Visible bool   `json:"visible"`
	Error   string `json:"error,omitempty"`
}

type PromisePrompt struct {
	Visible     bool    `json:"visible"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	ContractID  string  `json:"contract_id,omitempty"`
	Amount      string  `json:"amount,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Pending     bool    `json:"pending"`
	Error       string  `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the orchestrator state.
type Snapshot struct {
	Phase       Phase            `json:"phase"`
	Refreshing  bool             `json:"refreshing"`
	Loaded      bool             `json:"loaded"`
	UserName    string           `json:"user_name,omitempty"`
	Contracts   []model.Contract `json:"contracts"`
	Accounts    []model.Account  `json:"accounts"`
	Selection   Selection        `json:"selection"`
	View        View             `json:"view"`
	LoginPrompt LoginPrompt      `json:"login_prompt"`
	Promise     PromisePrompt    `json:"promise_prompt"`
	Notice      string           `json:"notice,omitempty"`
	BaseURL     string           `json:"base_url"`
}

type Orchestrator struct {
	api   Billing
	store kvstore.Store
	log   zerolog.Logger
	opts  Options

	mu         sync.Mutex
	phase      Phase
	refreshing int
	loaded     bool
	userName   string
	contracts  []model.Contract
	accounts   []model.Account
	selection  Selection
	login      LoginPrompt
	promise    PromisePrompt
	notice     string
	// issued is the sequence of the latest started load, committed that of
	// the latest load whose result was installed.
	issued    uint64
	committed uint64
}

func New(api Billing, store kvstore.Store, opts Options) *Orchestrator {
	if opts.PromiseMin <= 0 && opts.PromiseMax <= 0 {
		opts.PromiseMin, opts.PromiseMax = DefaultPromiseMin, DefaultPromiseMax
	}
	if strings.TrimSpace(opts.PromiseInitialAmount) == "" {
		opts.PromiseInitialAmount = DefaultPromiseInitial
	}
	return &Orchestrator{
		api:   api,
		store: store,
		log:   opts.Logger.With().Str("component", "orchestrator").Logger(),
		opts:  opts,
		phase: PhaseUnauthenticated,
		login: LoginPrompt{Visible: false},
	}
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Phase:       o.phase,
		Refreshing:  o.refreshing > 0,
		Loaded:      o.loaded,
		UserName:    o.userName,
		Contracts:   append([]model.Contract{}, o.contracts...),
		Accounts:    append([]model.Account{}, o.accounts...),
		Selection:   o.selection,
		View:        Derive(o.contracts, o.accounts, o.selection),
		LoginPrompt: o.login,
		Promise:     o.promise,
		Notice:      o.notice,
		BaseURL:     o.api.BaseURL(),
	}
}

// Resume decides at cold start between loading with the stored token and
// asking for a login.
func (o *Orchestrator) Resume(ctx context.Context) error {
	_, ok, err := o.api.GetToken(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("read stored token")
	}
	if err != nil || !ok {
		o.mu.Lock()
		o.endSessionLocked(LoginPrompt{Visible: true})
		o.mu.Unlock()
		return nil
	}

	o.mu.Lock()
	o.setPhaseLocked(PhaseLoading)
	o.mu.Unlock()
	return o.load(ctx, loadInitial)
}

func (o *Orchestrator) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	o.mu.Lock()
	if username == "" || password == "" {
		o.login = LoginPrompt{Visible: true, Error: MsgEmptyCredentials}
		o.mu.Unlock()
		return &ValidationError{Field: "credentials", Reason: "username and password are required"}
	}
	if o.phase == PhaseAuthenticating {
		o.mu.Unlock()
		return ErrBusy
	}
	o.login.Error = ""
	o.setPhaseLocked(PhaseAuthenticating)
	o.mu.Unlock()

	if _, err := o.api.Login(ctx, username, password); err != nil {
		o.log.Error().Err(err).Msg("login failed")
		o.mu.Lock()
		o.endSessionLocked(LoginPrompt{Visible: true, Error: MsgLoginFailed})
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.login = LoginPrompt{}
	o.setPhaseLocked(PhaseLoading)
	o.mu.Unlock()
	return o.load(ctx, loadInitial)
}

func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.api.Logout(ctx); err != nil {
		o.log.Warn().Err(err).Msg("clear auth token on logout")
	}
	o.mu.Lock()
	o.endSessionLocked(LoginPrompt{Visible: true})
	o.notice = ""
	o.mu.Unlock()
	return nil
}

// Refresh re-fetches contracts and accounts without entering Loading. A
// failed refresh keeps the current lists.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseReady {
		o.mu.Unlock()
		return ErrNotReady
	}
	o.refreshing++
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.refreshing > 0 {
			o.refreshing--
		}
		o.mu.Unlock()
	}()
	return o.load(ctx, loadRefresh)
}

// CloseLoginPrompt hides the login prompt. It stays up while no session
// is held.
func (o *Orchestrator) CloseLoginPrompt() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == PhaseUnauthenticated || o.phase == PhaseAuthenticating {
		return ErrLoginRequired
	}
	o.login = LoginPrompt{}
	return nil
}

func (o *Orchestrator) SelectContract(i int) (Selection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sel, err := SelectContract(o.contracts, i)
	if err != nil {
		return o.selection, err
	}
	o.selection = sel
	return sel, nil
}

func (o *Orchestrator) SelectAccount(i int) (Selection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sel, err := SelectAccount(o.contracts, o.accounts, o.selection, i)
	if err != nil {
		return o.selection, err
	}
	o.selection = sel
	return sel, nil
}

// PeriodicServices fetches the services of one account. Results are not
// kept.
func (o *Orchestrator) PeriodicServices(ctx context.Context, accountID string) ([]model.PeriodicService, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, &ValidationError{Field: "account_id", Reason: "required"}
	}
	services, err := o.api.GetAccountPeriodicServices(ctx, accountID)
	if err != nil {
		o.log.Error().Err(err).Str("account_id", accountID).Msg("load periodic services")
		o.mu.Lock()
		o.failLocked(err, MsgServicesFailed)
		o.mu.Unlock()
		return nil, err
	}
	return services, nil
}

func (o *Orchestrator) BaseURL() string {
	return o.api.BaseURL()
}

// SetBaseURL switches the billing origin and keeps it for the next start.
func (o *Orchestrator) SetBaseURL(ctx context.Context, raw string) (string, error) {
	if err := o.api.SetBaseURL(ctx, raw, true); err != nil {
		return o.api.BaseURL(), err
	}
	return o.api.BaseURL(), nil
}

// DismissNotice clears the last user-facing message.
func (o *Orchestrator) DismissNotice() {
	o.mu.Lock()
	o.notice = ""
	o.mu.Unlock()
}

func (o *Orchestrator) load(ctx context.Context, kind string) error {
	o.mu.Lock()
	o.issued++
	seq := o.issued
	o.mu.Unlock()

	var (
		contracts []model.Contract
		accounts  []model.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contracts, err = o.api.GetContracts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = o.api.GetAccounts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return o.loadFailed(seq, kind, err)
	}

	name := o.resolveDisplayName(ctx, contracts)

	o.mu.Lock()
	if seq <= o.committed {
		o.mu.Unlock()
		metrics.RecordLoad(kind, "stale")
		o.log.Debug().Uint64("seq", seq).Str("kind", kind).Msg("discard stale load")
		return ErrStaleLoad
	}
	o.committed = seq
	o.contracts = nonNilContracts(contracts)
	o.accounts = nonNilAccounts(accounts)
	o.selection = Clamp(o.contracts, o.accounts, o.selection)
	o.userName = name
	o.loaded = true
	o.setPhaseLocked(PhaseReady)
	o.mu.Unlock()

	metrics.RecordLoad(kind, "ok")
	if err := o.store.Set(ctx, kvstore.KeyDisplayName, name); err != nil {
		o.log.Warn().Err(err).Msg("persist display name")
	}
	o.log.Info().Str("kind", kind).Int("contracts", len(contracts)).Int("accounts", len(accounts)).Msg("view model loaded")
	return nil
}

func (o *Orchestrator) loadFailed(seq uint64, kind string, err error) error {
	o.log.Error().Err(err).Str("kind", kind).Uint64("seq", seq).Msg("load failed")

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq <= o.committed && o.phase == PhaseUnauthenticated {
		metrics.RecordLoad(kind, "stale")
		return ErrStaleLoad
	}
	if apiclient.IsUnauthorized(err) {
		metrics.RecordLoad(kind, "error")
		o.failLocked(err, MsgLoadFailed)
		return err
	}
	if seq <= o.committed {
		metrics.RecordLoad(kind, "stale")
		return ErrStaleLoad
	}
	metrics.RecordLoad(kind, "error")
	if o.phase == PhaseLoading {
		o.setPhaseLocked(PhaseReady)
	}
	msg := MsgLoadFailed
	if kind == loadRefresh {
		msg = MsgRefreshFailed
	}
	o.failLocked(err, msg)
	return err
}

// failLocked surfaces msg. An authorization failure also ends the session,
// since the token is already gone from the store.
func (o *Orchestrator) failLocked(err error, msg string) {
	if apiclient.IsUnauthorized(err) {
		o.endSessionLocked(LoginPrompt{Visible: true})
		o.notice = MsgSessionExpired
		return
	}
	o.notice = msg
}

// endSessionLocked drops all session data. In-flight loads are invalidated
// by moving the committed mark past them.
func (o *Orchestrator) endSessionLocked(prompt LoginPrompt) {
	o.committed = o.issued
	o.contracts = nil
	o.accounts = nil
	o.userName = ""
	o.loaded = false
	o.selection = Selection{}
	o.promise = PromisePrompt{}
	o.refreshing = 0
	o.login = prompt
	o.setPhaseLocked(PhaseUnauthenticated)
}

func (o *Orchestrator) setPhaseLocked(p Phase) {
	if o.phase == p {
		return
	}
	o.log.Info().Str("from", string(o.phase)).Str("to", string(p)).Msg("phase changed")
	o.phase = p
}

// resolveDisplayName prefers the name on the first contract, then the name
// remembered from an earlier session, then a fixed label.
func (o *Orchestrator) resolveDisplayName(ctx context.Context, contracts []model.Contract) string {
	if len(contracts) > 0 {
		if name := strings.TrimSpace(contracts[0].ClientName); name != "" {
			return name
		}
	}
	stored, ok, err := o.store.Get(ctx, kvstore.KeyDisplayName)
	if err != nil {
		o.log.Warn().Err(err).Msg("read display name")
	}
	if ok && strings.TrimSpace(stored) != "" {
		return strings.TrimSpace(stored)
	}
	return DefaultDisplayName
}

func nonNilContracts(in []model.Contract) []model.Contract {
	if in == nil {
		return []model.Contract{}
	}
	return in
}

func nonNilAccounts(in []model.Account) []model.Account {
	if in == nil {
		return []model.Account{}
	}
	return in
}
