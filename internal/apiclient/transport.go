package apiclient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"selfcare/internal/kvstore"
	"selfcare/internal/metrics"
)

// headerTransport applies the default headers. Headers already set on the
// request win.
type headerTransport struct {
	next          http.RoundTripper
	clientVersion string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	setDefault(req.Header, "Content-Type", "application/json")
	setDefault(req.Header, "Accept", "application/json")
	setDefault(req.Header, "Cache-Control", "no-store")
	setDefault(req.Header, "X-Client-Version", t.clientVersion)
	setDefault(req.Header, "X-Request-ID", uuid.NewString())
	return t.next.RoundTrip(req)
}

// bearerTransport reads the token from the store on every request, so a
// token cleared by any code path is honored on the very next call.
type bearerTransport struct {
	next  http.RoundTripper
	store kvstore.Store
	log   zerolog.Logger
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok, err := t.store.Get(req.Context(), kvstore.KeyAuthToken)
	if err != nil {
		t.log.Warn().Err(err).Msg("read auth token")
	}
	req = req.Clone(req.Context())
	req.Header.Del("Authorization")
	if ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.next.RoundTrip(req)
}

// evictionTransport deletes the stored token when the remote side answers
// 401. The response itself is passed on untouched.
type evictionTransport struct {
	next  http.RoundTripper
	store kvstore.Store
	log   zerolog.Logger
}

func (t *evictionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if delErr := t.store.Delete(req.Context(), kvstore.KeyAuthToken); delErr != nil {
			t.log.Error().Err(delErr).Str("path", req.URL.Path).Msg("evict auth token")
		} else {
			metrics.RecordTokenEviction()
			t.log.Warn().Str("path", req.URL.Path).Msg("authorization failed, auth token evicted")
		}
	}
	return resp, nil
}

func setDefault(h http.Header, key, value string) {
	if value == "" || h.Get(key) != "" {
		return
	}
	h.Set(key, value)
}
