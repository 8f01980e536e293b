package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunLoginPostsCredentials(t *testing.T) {
	var payload map[string]string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/session/login" {
			return jsonResponse(http.StatusNotFound, map[string]any{"error": "not found"}), nil
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode login payload: %w", err)
		}
		return jsonResponse(http.StatusOK, map[string]any{"phase": "ready", "user_name": "Иванов"}), nil
	})

	out, err := captureStdout(func() error {
		return run(client, []string{"login", "--username", "user", "--password", "pass"})
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if payload["username"] != "user" || payload["password"] != "pass" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if !strings.Contains(out, `"phase": "ready"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRunLoginRequiresCredentials(t *testing.T) {
	t.Setenv("SELFCARE_PASSWORD", "")
	calls := 0
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, map[string]any{}), nil
	})
	err := run(client, []string{"login", "--username", "user"})
	if err == nil || !strings.Contains(err.Error(), "--username and --password are required") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no requests, got %d", calls)
	}
}

func TestRunLoginSurfacesPromptError(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, map[string]any{
			"error": "login failed",
			"state": map[string]any{
				"login_prompt": map[string]any{"visible": true, "error": "Неверный логин или пароль"},
			},
		}), nil
	})
	err := run(client, []string{"login", "--username", "user", "--password", "bad"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "http 401") || !strings.Contains(err.Error(), "Неверный логин или пароль") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunSelectAccountPutsIndex(t *testing.T) {
	var gotMethod, gotPath string
	var payload map[string]int
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotMethod, gotPath = r.Method, r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, err
		}
		return jsonResponse(http.StatusOK, map[string]any{"phase": "ready"}), nil
	})

	if _, err := captureStdout(func() error {
		return run(client, []string{"select", "account", "--index", "2"})
	}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/v1/selection/account" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
	if payload["index"] != 2 {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRunSelectRejectsUnknownTarget(t *testing.T) {
	err := run(newTestClient(nil), []string{"select", "tariff", "--index", "0"})
	if err == nil || !strings.Contains(err.Error(), "unknown select target") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunServicesWritesXLSX(t *testing.T) {
	content := []byte("PK\x03\x04fake-xlsx")
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/accounts/A1/services.xlsx" {
			return jsonResponse(http.StatusNotFound, map[string]any{"error": "not found"}), nil
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}},
			Body:       io.NopCloser(bytes.NewReader(content)),
		}, nil
	})

	target := filepath.Join(t.TempDir(), "services.xlsx")
	out, err := captureStdout(func() error {
		return run(client, []string{"services", "--account", "A1", "--xlsx", target})
	})
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	written, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !bytes.Equal(written, content) {
		t.Fatalf("unexpected export content: %q", written)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected output to name the file, got %s", out)
	}
}

func TestRunPromiseSubmitSendsAmountText(t *testing.T) {
	var payload map[string]string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/promise-payment/submit" {
			return jsonResponse(http.StatusNotFound, map[string]any{"error": "not found"}), nil
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, err
		}
		return jsonResponse(http.StatusOK, map[string]any{"status": "ok"}), nil
	})

	if _, err := captureStdout(func() error {
		return run(client, []string{"promise", "submit", "--amount", "75,5"})
	}); err != nil {
		t.Fatalf("promise submit: %v", err)
	}
	if payload["amount"] != "75,5" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRunPromiseSubmitShowsValidationMessage(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, map[string]any{
			"error": "amount: out of range",
			"state": map[string]any{
				"promise_prompt": map[string]any{"visible": true, "error": "Введите сумму от 50 до 100 ₽"},
			},
		}), nil
	})
	err := run(client, []string{"promise", "submit", "--amount", "500"})
	if err == nil || !strings.Contains(err.Error(), "Введите сумму от 50 до 100 ₽") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunBaseURLSet(t *testing.T) {
	var payload map[string]string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/base-url" {
			return jsonResponse(http.StatusNotFound, map[string]any{"error": "not found"}), nil
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, err
		}
		return jsonResponse(http.StatusOK, map[string]any{"base_url": "https://billing.example.net"}), nil
	})

	out, err := captureStdout(func() error {
		return run(client, []string{"base-url", "set", "--url", "https://billing.example.net/path"})
	})
	if err != nil {
		t.Fatalf("base-url set: %v", err)
	}
	if payload["url"] != "https://billing.example.net/path" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if !strings.Contains(out, "https://billing.example.net") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRunTariffEscapesID(t *testing.T) {
	var gotPath string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.EscapedPath()
		return jsonResponse(http.StatusOK, map[string]any{"id": "a b"}), nil
	})
	if _, err := captureStdout(func() error {
		return run(client, []string{"tariff", "--id", "a b"})
	}); err != nil {
		t.Fatalf("tariff: %v", err)
	}
	if gotPath != "/v1/tariffs/a%20b" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
}

func TestRunNotifyRejectsInvalidJSON(t *testing.T) {
	calls := 0
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, map[string]any{}), nil
	})
	err := run(client, []string{"notify", "--payload", "{not json"})
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no requests, got %d", calls)
	}
}

func TestRunNotifyForwardsPayload(t *testing.T) {
	var body []byte
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/notifications" {
			return jsonResponse(http.StatusNotFound, map[string]any{"error": "not found"}), nil
		}
		body, _ = io.ReadAll(r.Body)
		return jsonResponse(http.StatusOK, map[string]any{"kind": "payment_received"}), nil
	})
	raw := `{"type":"payment_received","data":{"contract_id":1,"amount":100}}`
	if _, err := captureStdout(func() error {
		return run(client, []string{"notify", "--payload", raw})
	}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if string(body) != raw {
		t.Fatalf("unexpected forwarded body: %s", body)
	}
}

func TestRunDaemonStop(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotMethod, gotPath = r.Method, r.URL.Path
		return jsonResponse(http.StatusOK, map[string]any{"status": "shutting_down"}), nil
	})
	if _, err := captureStdout(func() error {
		return run(client, []string{"daemon", "stop"})
	}); err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/daemon/shutdown" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run(newTestClient(nil), []string{"bogus"}); err != errUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestErrorMessageFallsBackToRawBody(t *testing.T) {
	if got := errorMessage([]byte("bad gateway")); got != "bad gateway" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := errorMessage([]byte(`{"error":"not ready"}`)); got != "not ready" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func newTestClient(fn roundTripFunc) *apiClient {
	if fn == nil {
		fn = func(r *http.Request) (*http.Response, error) {
			return nil, fmt.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}
	return &apiClient{
		baseURL: "http://selfcare.local",
		http:    &http.Client{Timeout: time.Second, Transport: fn},
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, payload any) *http.Response {
	body, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func captureStdout(fn func() error) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig

	data, readErr := io.ReadAll(r)
	_ = r.Close()
	if readErr != nil {
		return "", readErr
	}
	return string(data), runErr
}

func TestRunNoticeDismissUsesDelete(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotMethod, gotPath = r.Method, r.URL.Path
		return jsonResponse(http.StatusOK, map[string]any{"phase": "ready"}), nil
	})
	if _, err := captureStdout(func() error {
		return run(client, []string{"notice", "dismiss"})
	}); err != nil {
		t.Fatalf("notice dismiss: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/notice" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}
