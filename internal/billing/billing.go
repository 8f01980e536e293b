// Package billing exposes one typed method per billing API endpoint. Errors
// from the HTTP client are returned as-is.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"selfcare/internal/apiclient"
	"selfcare/internal/kvstore"
	"selfcare/internal/model"
)

const grantTypePassword = "password"

type API struct {
	client *apiclient.Client
	store  kvstore.Store
}

func New(client *apiclient.Client, store kvstore.Store) *API {
	return &API{client: client, store: store}
}

func (a *API) BaseURL() string {
	return a.client.BaseURL()
}

func (a *API) SetBaseURL(ctx context.Context, raw string, persist bool) error {
	return a.client.SetBaseURL(ctx, raw, persist)
}

// SuggestedLocalURL is a developer hint. It is never applied automatically.
func (a *API) SuggestedLocalURL() string {
	return a.client.Resolver().SuggestedLocalURL()
}

// Login exchanges credentials for a token and stores it, so every later
// request carries it without the caller passing it along.
func (a *API) Login(ctx context.Context, username, password string) (model.LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("grant_type", grantTypePassword)

	var resp model.LoginResponse
	if err := a.client.PostForm(ctx, "/auth/login", form, &resp); err != nil {
		return model.LoginResponse{}, err
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return model.LoginResponse{}, fmt.Errorf("POST /auth/login: %w: empty access_token", apiclient.ErrInvalidResponse)
	}
	if err := a.store.Set(ctx, kvstore.KeyAuthToken, resp.AccessToken); err != nil {
		return model.LoginResponse{}, fmt.Errorf("persist token: %w", err)
	}
	return resp, nil
}

// Logout only forgets the local token.
func (a *API) Logout(ctx context.Context) error {
	return a.store.Delete(ctx, kvstore.KeyAuthToken)
}

func (a *API) GetToken(ctx context.Context) (string, bool, error) {
	token, ok, err := a.store.Get(ctx, kvstore.KeyAuthToken)
	if err != nil || !ok || strings.TrimSpace(token) == "" {
		return "", false, err
	}
	return token, true, nil
}

func (a *API) IsAuthenticated(ctx context.Context) (bool, error) {
	_, ok, err := a.GetToken(ctx)
	return ok, err
}

func (a *API) GetContracts(ctx context.Context) ([]model.Contract, error) {
	var out []model.Contract
	if err := a.client.GetJSON(ctx, "/contracts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) GetContract(ctx context.Context, contractID string) (model.Contract, error) {
	var out model.Contract
	if err := a.client.GetJSON(ctx, "/contracts/"+url.PathEscape(contractID), &out); err != nil {
		return model.Contract{}, err
	}
	return out, nil
}

func (a *API) GetContractBalance(ctx context.Context, contractID string) (model.Balance, error) {
	var out model.Balance
	if err := a.client.GetJSON(ctx, "/contracts/"+url.PathEscape(contractID)+"/balance", &out); err != nil {
		return model.Balance{}, err
	}
	return out, nil
}

func (a *API) GetContractAccounts(ctx context.Context, contractID string) ([]model.Account, error) {
	var out []model.Account
	if err := a.client.GetJSON(ctx, "/contracts/"+url.PathEscape(contractID)+"/accounts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) GetAccounts(ctx context.Context) ([]model.Account, error) {
	var out []model.Account
	if err := a.client.GetJSON(ctx, "/accounts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	var out model.Account
	if err := a.client.GetJSON(ctx, "/accounts/"+url.PathEscape(accountID), &out); err != nil {
		return model.Account{}, err
	}
	return out, nil
}

func (a *API) GetAccountPeriodicServices(ctx context.Context, accountID string) ([]model.PeriodicService, error) {
	var out []model.PeriodicService
	if err := a.client.GetJSON(ctx, "/accounts/"+url.PathEscape(accountID)+"/services", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) ActivatePromisePayment(ctx context.Context, contractID string, req model.PromisePaymentRequest) (model.PromisePaymentResponse, error) {
	var out model.PromisePaymentResponse
	if err := a.client.PostJSON(ctx, "/contracts/"+url.PathEscape(contractID)+"/promise-payment", req, &out); err != nil {
		return model.PromisePaymentResponse{}, err
	}
	return out, nil
}

// GetTariff returns the tariff document untouched; its shape is owned by
// the billing side.
func (a *API) GetTariff(ctx context.Context, tariffID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.client.GetJSON(ctx, "/tariffs/"+url.PathEscape(tariffID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) HealthCheck(ctx context.Context) (model.Health, error) {
	var out model.Health
	if err := a.client.GetJSON(ctx, "/admin/health", &out); err != nil {
		return model.Health{}, err
	}
	return out, nil
}
