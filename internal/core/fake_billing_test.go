package core

import (
	"context"
	"sync"

	"selfcare/internal/model"
)

type fakeBilling struct {
	mu sync.Mutex

	base      string
	token     string
	contracts []model.Contract
	accounts  []model.Account
	services  []model.PeriodicService

	loginErr     error
	contractsErr error
	accountsErr  error
	servicesErr  error
	promiseErr   error

	gates   []chan struct{}
	entered chan struct{}

	setBaseCalls  int
	loginCalls    int
	contractCalls int
	promiseCalls  int
	lastPromise   model.PromisePaymentRequest
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{base: "http://192.168.56.1:8000", entered: make(chan struct{}, 8)}
}

func (f *fakeBilling) BaseURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base
}

func (f *fakeBilling) SetBaseURL(_ context.Context, raw string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setBaseCalls++
	f.base = raw
	return nil
}

func (f *fakeBilling) Login(_ context.Context, username, password string) (model.LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return model.LoginResponse{}, f.loginErr
	}
	f.token = "tok:" + username + ":" + password
	return model.LoginResponse{AccessToken: f.token, TokenType: "bearer"}, nil
}

func (f *fakeBilling) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return nil
}

func (f *fakeBilling) GetToken(context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != "", nil
}

func (f *fakeBilling) GetContracts(ctx context.Context) ([]model.Contract, error) {
	f.mu.Lock()
	f.contractCalls++
	out := append([]model.Contract(nil), f.contracts...)
	err := f.contractsErr
	var gate chan struct{}
	if len(f.gates) > 0 {
		gate, f.gates = f.gates[0], f.gates[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		f.entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeBilling) GetAccounts(context.Context) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return append([]model.Account(nil), f.accounts...), nil
}

func (f *fakeBilling) GetAccountPeriodicServices(context.Context, string) ([]model.PeriodicService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.servicesErr != nil {
		return nil, f.servicesErr
	}
	return append([]model.PeriodicService(nil), f.services...), nil
}

func (f *fakeBilling) ActivatePromisePayment(_ context.Context, contractID string, req model.PromisePaymentRequest) (model.PromisePaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promiseCalls++
	f.lastPromise = req
	if f.promiseErr != nil {
		return model.PromisePaymentResponse{}, f.promiseErr
	}
	return model.PromisePaymentResponse{Status: "ok", ContractID: 1, Amount: req.Amount}, nil
}

func (f *fakeBilling) set(fn func(f *fakeBilling)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBilling) calls() (contracts, promise int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contractCalls, f.promiseCalls
}
