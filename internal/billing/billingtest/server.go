// Package billingtest runs an in-process billing API for tests.
package billingtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"selfcare/internal/model"
)

const (
	DefaultUsername = "user"
	DefaultPassword = "pass"
	DefaultToken    = "tok-1"
)

// Request is what the fake observed for one call.
type Request struct {
	Method        string
	Path          string
	Authorization string
	Form          url.Values
	Body          []byte
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	username  string
	password  string
	token     string
	contracts []model.Contract
	accounts  []model.Account
	services  map[string][]model.PeriodicService
	tariffs   map[string]json.RawMessage
	failures  map[string]int
	hooks     map[string]func()
	promise   model.PromisePaymentResponse
	requests  []Request
}

// New starts the fake and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		username: DefaultUsername,
		password: DefaultPassword,
		token:    DefaultToken,
		services: map[string][]model.PeriodicService{},
		tariffs:  map[string]json.RawMessage{},
		failures: map[string]int{},
		hooks:    map[string]func(){},
		promise: model.PromisePaymentResponse{
			Status:     "ok",
			ContractID: 1,
			Amount:     75,
			Result:     json.RawMessage(`{}`),
		},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.inject)

	r.Post("/auth/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/contracts", s.handleContracts)
		r.Get("/contracts/{id}", s.handleContract)
		r.Get("/contracts/{id}/balance", s.handleBalance)
		r.Get("/contracts/{id}/accounts", s.handleContractAccounts)
		r.Post("/contracts/{id}/promise-payment", s.handlePromise)
		r.Get("/accounts", s.handleAccounts)
		r.Get("/accounts/{id}", s.handleAccount)
		r.Get("/accounts/{id}/services", s.handleServices)
		r.Get("/tariffs/{id}", s.handleTariff)
		r.Get("/admin/health", s.handleHealth)
	})
	return r
}

func (s *Server) SetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

func (s *Server) SetContracts(contracts ...model.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts = append([]model.Contract(nil), contracts...)
}

func (s *Server) SetAccounts(accounts ...model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append([]model.Account(nil), accounts...)
}

func (s *Server) SetServices(accountID string, services ...model.PeriodicService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[accountID] = append([]model.PeriodicService(nil), services...)
}

func (s *Server) SetTariff(id string, doc json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tariffs[id] = doc
}

func (s *Server) SetPromiseResponse(resp model.PromisePaymentResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promise = resp
}

// Fail makes every request to path answer with status until cleared with
// status 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// Hook runs fn before the next request to path is answered. It fires once.
func (s *Server) Hook(path string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[path] = fn
}

// RevokeToken invalidates the issued token so the next bearer request
// gets a 401.
func (s *Server) RevokeToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = s.token + "-revoked"
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests hit method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		rec := Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			rec.Form, _ = url.ParseQuery(string(body))
		}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()

		r.Body = io.NopCloser(strings.NewReader(string(body)))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		hook := s.hooks[r.URL.Path]
		delete(s.hooks, r.URL.Path)
		status := s.failures[r.URL.Path]
		s.mu.Unlock()

		if hook != nil {
			hook()
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		want := "Bearer " + s.token
		s.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	ok := r.PostForm.Get("username") == s.username &&
		r.PostForm.Get("password") == s.password &&
		r.PostForm.Get("grant_type") == "password"
	token := s.token
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		return
	}
	writeJSON(w, http.StatusOK, model.LoginResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleContracts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := append([]model.Contract{}, s.contracts...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) findContract(id string) (model.Contract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contracts {
		if c.ID == id {
			return c, true
		}
	}
	return model.Contract{}, false
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	c, ok := s.findContract(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Contract not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	c, ok := s.findContract(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Contract not found"})
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{Balance: c.Balance})
}

func (s *Server) handleContractAccounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	out := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.ContractID == id {
			out = append(out, a)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := append([]model.Account{}, s.accounts...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Account not found"})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]model.PeriodicService{}, s.services[chi.URLParam(r, "id")]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePromise(w http.ResponseWriter, r *http.Request) {
	var req model.PromisePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	resp := s.promise
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTariff(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc, ok := s.tariffs[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Tariff not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.Health{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
