package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"selfcare/internal/apiclient"
	"selfcare/internal/core"
	"selfcare/internal/metrics"
	"selfcare/internal/model"
	"selfcare/internal/notify"
	"selfcare/internal/report"
)

const maxNotificationBody = 64 << 10

// Orchestrator is the view-model surface the daemon exposes.
type Orchestrator interface {
	notify.Handler
	Snapshot() core.Snapshot
	Resume(ctx context.Context) error
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) error
	CloseLoginPrompt() error
	SelectContract(i int) (core.Selection, error)
	SelectAccount(i int) (core.Selection, error)
	PeriodicServices(ctx context.Context, accountID string) ([]model.PeriodicService, error)
	OpenPromisePrompt() (core.PromisePrompt, error)
	SubmitPromisePayment(ctx context.Context, amount string) (model.PromisePaymentResponse, error)
	ClosePromisePrompt()
	DismissNotice()
	BaseURL() string
	SetBaseURL(ctx context.Context, raw string) (string, error)
}

// Remote covers billing calls that bypass the view model.
type Remote interface {
	HealthCheck(ctx context.Context) (model.Health, error)
	GetTariff(ctx context.Context, tariffID string) (json.RawMessage, error)
	SuggestedLocalURL() string
}

type PushRegistrar interface {
	Register(ctx context.Context, token string) error
}

type Options struct {
	RefreshRate    float64
	RefreshBurst   int
	DisableMetrics bool
	AllowedOrigins []string
	Logger         zerolog.Logger
}

type APIServer struct {
	orch    Orchestrator
	remote  Remote
	push    PushRegistrar
	daemon  DaemonController
	log     zerolog.Logger
	opts    Options
	limiter *rate.Limiter
}

func New(orch Orchestrator, remote Remote, push PushRegistrar, daemonCtl DaemonController, opts Options) *APIServer {
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 1
	}
	if opts.RefreshBurst < 1 {
		opts.RefreshBurst = 1
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &APIServer{
		orch:    orch,
		remote:  remote,
		push:    push,
		daemon:  daemonCtl,
		log:     opts.Logger.With().Str("component", "server").Logger(),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RefreshRate), opts.RefreshBurst),
	}
}

func (s *APIServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
	}).Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Delete("/notice", s.handleDismissNotice)

		r.Post("/session/login", s.handleLogin)
		r.Post("/session/logout", s.handleLogout)
		r.Post("/session/resume", s.handleResume)
		r.Post("/session/prompt/close", s.handleCloseLoginPrompt)
		r.With(s.limitRefresh).Post("/refresh", s.handleRefresh)

		r.Put("/selection/contract", s.handleSelectContract)
		r.Put("/selection/account", s.handleSelectAccount)

		r.Get("/accounts/{id}/services", s.handleServices)
		r.Get("/accounts/{id}/services.xlsx", s.handleServicesXLSX)

		r.Post("/promise-payment/open", s.handleOpenPromise)
		r.Post("/promise-payment/submit", s.handleSubmitPromise)
		r.Post("/promise-payment/close", s.handleClosePromise)

		r.Get("/base-url", s.handleGetBaseURL)
		r.Put("/base-url", s.handleSetBaseURL)
		r.Get("/base-url/suggested", s.handleSuggestedBaseURL)

		r.Get("/remote/health", s.handleRemoteHealth)
		r.Get("/tariffs/{id}", s.handleTariff)

		r.Post("/notifications", s.handleNotification)
		r.Post("/notifications/register", s.handleRegisterPush)

		r.Get("/daemon/info", s.handleDaemonInfo)
		r.Post("/daemon/shutdown", s.handleDaemonShutdown)
	})
	if !s.opts.DisableMetrics {
		r.Handle("/metrics", metrics.Handler())
	}
	return r
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.orch.Snapshot())
}

func (s *APIServer) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	s.orch.DismissNotice()
	writeJSON(w, r, http.StatusOK, s.orch.Snapshot())
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	s.respondState(w, r, s.orch.Login(r.Context(), req.Username, req.Password))
}

func (s *APIServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.respondState(w, r, s.orch.Logout(r.Context()))
}

func (s *APIServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.respondState(w, r, s.orch.Resume(r.Context()))
}

func (s *APIServer) handleCloseLoginPrompt(w http.ResponseWriter, r *http.Request) {
	s.respondState(w, r, s.orch.CloseLoginPrompt())
}

func (s *APIServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Refresh(r.Context())
	if errors.Is(err, core.ErrStaleLoad) {
		err = nil
	}
	s.respondState(w, r, err)
}

type indexRequest struct {
	Index *int `json:"index"`
}

func (s *APIServer) handleSelectContract(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSONBody(r, &req, false); err != nil || req.Index == nil {
		writeError(w, r, http.StatusBadRequest, errors.New("index is required"))
		return
	}
	_, err := s.orch.SelectContract(*req.Index)
	s.respondState(w, r, err)
}

func (s *APIServer) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSONBody(r, &req, false); err != nil || req.Index == nil {
		writeError(w, r, http.StatusBadRequest, errors.New("index is required"))
		return
	}
	_, err := s.orch.SelectAccount(*req.Index)
	s.respondState(w, r, err)
}

type serviceView struct {
	model.PeriodicService
	Active     bool   `json:"active"`
	StatusText string `json:"status_text"`
}

func (s *APIServer) handleServices(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	services, err := s.orch.PeriodicServices(r.Context(), accountID)
	if err != nil {
		s.respondState(w, r, err)
		return
	}
	out := make([]serviceView, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceView{PeriodicService: svc, Active: svc.Active(), StatusText: svc.StatusText()})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"account_id": accountID, "services": out})
}

func (s *APIServer) handleServicesXLSX(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	services, err := s.orch.PeriodicServices(r.Context(), accountID)
	if err != nil {
		s.respondState(w, r, err)
		return
	}
	data, err := report.PeriodicServicesXLSX(services)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.ServicesFileName(accountID, time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *APIServer) handleOpenPromise(w http.ResponseWriter, r *http.Request) {
	_, err := s.orch.OpenPromisePrompt()
	s.respondState(w, r, err)
}

func (s *APIServer) handleSubmitPromise(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := s.orch.SubmitPromisePayment(r.Context(), req.Amount)
	if err != nil {
		s.respondState(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"payment": resp, "state": s.orch.Snapshot()})
}

func (s *APIServer) handleClosePromise(w http.ResponseWriter, r *http.Request) {
	s.orch.ClosePromisePrompt()
	writeJSON(w, r, http.StatusOK, s.orch.Snapshot())
}

func (s *APIServer) handleGetBaseURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"base_url": s.orch.BaseURL()})
}

func (s *APIServer) handleSetBaseURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	applied, err := s.orch.SetBaseURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"base_url": applied})
}

func (s *APIServer) handleSuggestedBaseURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"suggested_url": s.remote.SuggestedLocalURL()})
}

func (s *APIServer) handleRemoteHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.remote.HealthCheck(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, health)
}

func (s *APIServer) handleTariff(w http.ResponseWriter, r *http.Request) {
	doc, err := s.remote.GetTariff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *APIServer) handleNotification(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	n, err := notify.Handle(r.Context(), s.orch, raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("notification ignored")
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"kind": n.Kind(), "state": s.orch.Snapshot()})
}

func (s *APIServer) handleRegisterPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.push.Register(r.Context(), req.Token); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *APIServer) handleDaemonInfo(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil {
		writeError(w, r, http.StatusServiceUnavailable, errors.New("daemon control not configured"))
		return
	}
	writeJSON(w, r, http.StatusOK, s.daemon.Info())
}

func (s *APIServer) handleDaemonShutdown(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil {
		writeError(w, r, http.StatusServiceUnavailable, errors.New("daemon control not configured"))
		return
	}
	if err := s.daemon.Shutdown(); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "shutting_down"})
}

// respondState answers with the current snapshot, or with the error and
// the snapshot so the caller can render inline messages.
func (s *APIServer) respondState(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeJSON(w, r, http.StatusOK, s.orch.Snapshot())
		return
	}
	state := s.orch.Snapshot()
	writeJSON(w, r, statusFor(err), errorResponse{Error: err.Error(), State: &state})
}

func (s *APIServer) limitRefresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.log.Warn().Str("path", r.URL.Path).Msg("refresh rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, errors.New("too many refresh requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("daemon request")
	})
}

// statusFor maps an error to the daemon's HTTP status.
func statusFor(err error) int {
	var validation *core.ValidationError
	var upstream *apiclient.StatusError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, core.ErrSelectionOutOfRange),
		errors.Is(err, notify.ErrEmptyPushToken):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotReady),
		errors.Is(err, core.ErrLoginRequired),
		errors.Is(err, core.ErrNoContract),
		errors.Is(err, core.ErrPromptClosed),
		errors.Is(err, core.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, notify.ErrUnknownKind), errors.Is(err, notify.ErrEmptyPayload):
		return http.StatusUnprocessableEntity
	case apiclient.IsUnauthorized(err):
		return http.StatusUnauthorized
	case apiclient.IsTimeout(err):
		return http.StatusGatewayTimeout
	case apiclient.IsTransport(err), errors.As(err, &upstream), errors.Is(err, apiclient.ErrInvalidResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string         `json:"error"`
	State *core.Snapshot `json:"state,omitempty"`
}

func decodeJSONBody(r *http.Request, dst interface{}, allowEmpty bool) error {
	err := render.DecodeJSON(r.Body, dst)
	if err != nil && allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	render.Status(r, status)
	render.JSON(w, r, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, r, status, errorResponse{Error: strings.TrimSpace(err.Error())})
}
