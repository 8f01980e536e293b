package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultDaemonURL = "http://127.0.0.1:7788"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("SELFCARE_DAEMON_URL")
	if baseURL == "" {
		baseURL = defaultDaemonURL
	}
	client := &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}

	if err := run(client, os.Args[1:]); err != nil {
		if err == errUsage {
			printUsage()
			os.Exit(1)
		}
		must(err)
	}
}

var errUsage = fmt.Errorf("usage")

func run(c *apiClient, args []string) error {
	switch args[0] {
	case "status":
		return runGetPrint(c, "/v1/state")
	case "login":
		return runLogin(c, args[1:])
	case "logout":
		return runPostPrint(c, "/v1/session/logout", nil)
	case "resume":
		return runPostPrint(c, "/v1/session/resume", nil)
	case "login-prompt":
		if len(args) < 2 || args[1] != "close" {
			return fmt.Errorf("usage: selfcare login-prompt close")
		}
		return runPostPrint(c, "/v1/session/prompt/close", nil)
	case "notice":
		if len(args) < 2 || args[1] != "dismiss" {
			return fmt.Errorf("usage: selfcare notice dismiss")
		}
		var out map[string]interface{}
		if err := c.delete("/v1/notice", &out); err != nil {
			return err
		}
		return printJSON(out)
	case "refresh":
		return runPostPrint(c, "/v1/refresh", nil)
	case "select":
		return runSelect(c, args[1:])
	case "services":
		return runServices(c, args[1:])
	case "promise":
		return runPromise(c, args[1:])
	case "base-url":
		return runBaseURL(c, args[1:])
	case "health":
		return runGetPrint(c, "/v1/remote/health")
	case "tariff":
		return runTariff(c, args[1:])
	case "push":
		return runPush(c, args[1:])
	case "notify":
		return runNotify(c, args[1:])
	case "daemon":
		return runDaemon(c, args[1:])
	default:
		return errUsage
	}
}

func runGetPrint(c *apiClient, path string) error {
	var out map[string]interface{}
	if err := c.get(path, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runPostPrint(c *apiClient, path string, payload interface{}) error {
	var out map[string]interface{}
	if err := c.post(path, payload, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runLogin(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("username", "", "billing login")
	password := fs.String("password", os.Getenv("SELFCARE_PASSWORD"), "billing password (default: $SELFCARE_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*password) == "" {
		return fmt.Errorf("--username and --password are required")
	}
	return runPostPrint(c, "/v1/session/login", map[string]string{"username": *username, "password": *password})
}

func runSelect(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing select target: contract|account")
	}
	target := args[0]
	if target != "contract" && target != "account" {
		return fmt.Errorf("unknown select target: %s", target)
	}
	fs := flag.NewFlagSet("select "+target, flag.ContinueOnError)
	index := fs.Int("index", -1, "zero-based index")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *index < 0 {
		return fmt.Errorf("--index is required")
	}
	var out map[string]interface{}
	if err := c.put("/v1/selection/"+target, map[string]int{"index": *index}, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runServices(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("services", flag.ContinueOnError)
	accountID := fs.String("account", "", "account id")
	xlsx := fs.String("xlsx", "", "write an XLSX export to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := strings.TrimSpace(*accountID)
	if id == "" {
		return fmt.Errorf("--account is required")
	}
	path := "/v1/accounts/" + url.PathEscape(id) + "/services"
	if *xlsx == "" {
		return runGetPrint(c, path)
	}
	data, err := c.getRaw(path + ".xlsx")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*xlsx, data, 0o644); err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"status": "ok", "file": *xlsx, "bytes": len(data)})
}

func runPromise(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing promise command: open|submit|close")
	}
	switch args[0] {
	case "open":
		return runPostPrint(c, "/v1/promise-payment/open", nil)
	case "close":
		return runPostPrint(c, "/v1/promise-payment/close", nil)
	case "submit":
		fs := flag.NewFlagSet("promise submit", flag.ContinueOnError)
		amount := fs.String("amount", "", "amount, e.g. 75 or 75,5")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if strings.TrimSpace(*amount) == "" {
			return fmt.Errorf("--amount is required")
		}
		return runPostPrint(c, "/v1/promise-payment/submit", map[string]string{"amount": *amount})
	default:
		return fmt.Errorf("unknown promise command: %s", args[0])
	}
}

func runBaseURL(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing base-url command: get|set|suggested")
	}
	switch args[0] {
	case "get":
		return runGetPrint(c, "/v1/base-url")
	case "suggested":
		return runGetPrint(c, "/v1/base-url/suggested")
	case "set":
		fs := flag.NewFlagSet("base-url set", flag.ContinueOnError)
		raw := fs.String("url", "", "billing origin, e.g. https://billing.example.net")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if strings.TrimSpace(*raw) == "" {
			return fmt.Errorf("--url is required")
		}
		var out map[string]interface{}
		if err := c.put("/v1/base-url", map[string]string{"url": *raw}, &out); err != nil {
			return err
		}
		return printJSON(out)
	default:
		return fmt.Errorf("unknown base-url command: %s", args[0])
	}
}

func runTariff(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("tariff", flag.ContinueOnError)
	id := fs.String("id", "", "tariff id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("--id is required")
	}
	var out interface{}
	if err := c.get("/v1/tariffs/"+url.PathEscape(strings.TrimSpace(*id)), &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runPush(c *apiClient, args []string) error {
	if len(args) < 1 || args[0] != "register" {
		return fmt.Errorf("usage: selfcare push register --token <token>")
	}
	fs := flag.NewFlagSet("push register", flag.ContinueOnError)
	token := fs.String("token", "", "device push token")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	return runPostPrint(c, "/v1/notifications/register", map[string]string{"token": *token})
}

func runNotify(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	payload := fs.String("payload", "", "raw push payload JSON")
	file := fs.String("file", "", "read the push payload from a file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw := []byte(*payload)
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		raw = data
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("--payload or --file is required")
	}
	if !json.Valid(raw) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return runPostPrint(c, "/v1/notifications", json.RawMessage(raw))
}

func runDaemon(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing daemon command: info|stop")
	}
	switch args[0] {
	case "info":
		return runGetPrint(c, "/v1/daemon/info")
	case "stop":
		return runPostPrint(c, "/v1/daemon/shutdown", nil)
	default:
		return fmt.Errorf("unknown daemon command: %s", args[0])
	}
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func (c *apiClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, payload interface{}, out interface{}) error {
	return c.do(http.MethodPost, path, payload, out)
}

func (c *apiClient) put(path string, payload interface{}, out interface{}) error {
	return c.do(http.MethodPut, path, payload, out)
}

func (c *apiClient) delete(path string, out interface{}) error {
	return c.do(http.MethodDelete, path, nil, out)
}

func (c *apiClient) getRaw(path string) ([]byte, error) {
	resp, err := c.send(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *apiClient) do(method, path string, payload interface{}, out interface{}) error {
	resp, err := c.send(method, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) send(method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &daemonError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	return resp, nil
}

type daemonError struct {
	Status  int
	Message string
}

func (e *daemonError) Error() string {
	return "http " + strconv.Itoa(e.Status) + ": " + e.Message
}

// errorMessage prefers the user-facing text the daemon put into the
// returned state over the raw error.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
		State *struct {
			Notice      string `json:"notice"`
			LoginPrompt struct {
				Error string `json:"error"`
			} `json:"login_prompt"`
			Promise struct {
				Error string `json:"error"`
			} `json:"promise_prompt"`
		} `json:"state"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if body.State != nil {
		for _, msg := range []string{body.State.Promise.Error, body.State.LoginPrompt.Error, body.State.Notice} {
			if msg != "" {
				return msg + " (" + body.Error + ")"
			}
		}
	}
	return body.Error
}

func printUsage() {
	fmt.Println("selfcare commands:")
	fmt.Println("  status")
	fmt.Println("  login --username <login> [--password <password>]")
	fmt.Println("  logout")
	fmt.Println("  resume")
	fmt.Println("  login-prompt close")
	fmt.Println("  notice dismiss")
	fmt.Println("  refresh")
	fmt.Println("  select contract|account --index <n>")
	fmt.Println("  services --account <id> [--xlsx <file>]")
	fmt.Println("  promise open")
	fmt.Println("  promise submit --amount <amount>")
	fmt.Println("  promise close")
	fmt.Println("  base-url get|suggested")
	fmt.Println("  base-url set --url <origin>")
	fmt.Println("  health")
	fmt.Println("  tariff --id <id>")
	fmt.Println("  push register --token <token>")
	fmt.Println("  notify --payload <json> | --file <path>")
	fmt.Println("  daemon info|stop")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
