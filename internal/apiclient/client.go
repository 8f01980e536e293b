// Package apiclient is the single path every billing API call takes. It
// owns the active base URL, injects the stored bearer token into outgoing
// requests and evicts it when the remote side answers 401.
//
// Nothing is retried. Every failure surfaces exactly once as one of
// *TransportError, *TimeoutError, *UnauthorizedError or *StatusError.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"selfcare/internal/baseurl"
	"selfcare/internal/kvstore"
	"selfcare/internal/metrics"
)

const (
	DefaultTimeout       = 12 * time.Second
	DefaultClientVersion = "1.0.0"

	maxErrorBody = 64 << 10
)

type Config struct {
	Resolver      *baseurl.Resolver
	Store         kvstore.Store
	Logger        zerolog.Logger
	Timeout       time.Duration
	ClientVersion string
	// Transport is the innermost round tripper. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client

	resolver      *baseurl.Resolver
	store         kvstore.Store
	log           zerolog.Logger
	timeout       time.Duration
	clientVersion string
	transport     http.RoundTripper
}

// New builds a client bound to the resolver's default origin and then
// applies a previously persisted override, if any. A failure to read the
// override is logged and the default is kept.
func New(ctx context.Context, cfg Config) *Client {
	if cfg.Resolver == nil {
		cfg.Resolver = baseurl.NewResolver(baseurl.ModeProduction, "")
	}
	if cfg.Store == nil {
		cfg.Store = kvstore.NewMemoryStore()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}

	c := &Client{
		resolver:      cfg.Resolver,
		store:         cfg.Store,
		log:           cfg.Logger.With().Str("component", "apiclient").Logger(),
		timeout:       cfg.Timeout,
		clientVersion: cfg.ClientVersion,
		transport:     cfg.Transport,
	}
	c.baseURL = cfg.Resolver.Default()
	c.httpClient = c.newHTTPClient()

	c.bootstrapBaseURL(ctx)
	return c
}

func (c *Client) bootstrapBaseURL(ctx context.Context) {
	stored, ok, err := c.store.Get(ctx, kvstore.KeyBaseURL)
	if err != nil {
		c.log.Warn().Err(err).Msg("load stored base URL")
		return
	}
	if !ok || strings.TrimSpace(stored) == "" {
		return
	}
	if err := c.SetBaseURL(ctx, stored, false); err != nil {
		c.log.Warn().Err(err).Msg("apply stored base URL")
	}
}

func (c *Client) newHTTPClient() *http.Client {
	var rt http.RoundTripper = &evictionTransport{next: c.transport, store: c.store, log: c.log}
	rt = &bearerTransport{next: rt, store: c.store, log: c.log}
	rt = &headerTransport{next: rt, clientVersion: c.clientVersion}
	return &http.Client{
		Timeout:   c.timeout,
		Transport: rt,
	}
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Resolver exposes the resolver the client was built with.
func (c *Client) Resolver() *baseurl.Resolver {
	return c.resolver
}

// SetBaseURL sanitizes raw and, when the resulting origin differs from the
// active one, rebinds the transport to it. With persist the new origin is
// written to the store so it survives a restart. Setting the active origin
// again does nothing.
func (c *Client) SetBaseURL(ctx context.Context, raw string, persist bool) error {
	sanitized := baseurl.Sanitize(raw)

	c.mu.Lock()
	if sanitized == c.baseURL {
		c.mu.Unlock()
		return nil
	}
	previous := c.baseURL
	c.baseURL = sanitized
	c.httpClient = c.newHTTPClient()
	c.mu.Unlock()

	c.log.Info().Str("from", previous).Str("to", sanitized).Bool("persist", persist).Msg("base URL changed")

	if !persist {
		return nil
	}
	if err := c.store.Set(ctx, kvstore.KeyBaseURL, sanitized); err != nil {
		return fmt.Errorf("persist base URL: %w", err)
	}
	return nil
}

func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) PostJSON(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	c.mu.RLock()
	base, hc := c.baseURL, c.httpClient
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	resp, err := hc.Do(req)
	took := time.Since(start)
	if err != nil {
		metrics.RecordBillingRequest(method, 0, took)
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Dur("took", took).Msg("billing request failed")
		return c.classify(method, path, err)
	}
	defer resp.Body.Close()

	metrics.RecordBillingRequest(method, resp.StatusCode, took)
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", took).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Msg("billing request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			return &UnauthorizedError{Method: method, Path: path, Body: raw}
		}
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: raw}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if c.isTimeout(err) {
			return &TimeoutError{Method: method, Path: path, Timeout: c.timeout, Err: err}
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) classify(method, path string, err error) error {
	if c.isTimeout(err) {
		return &TimeoutError{Method: method, Path: path, Timeout: c.timeout, Err: err}
	}
	return &TransportError{Method: method, Path: path, Err: err}
}

func (c *Client) isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
