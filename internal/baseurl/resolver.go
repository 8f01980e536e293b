// Package baseurl computes the origin of the billing API.
//
// Every value that leaves this package is a bare origin: scheme, host and
// an optional non-default port. Invalid input never produces an error; it
// degrades to RemoteDefault.
package baseurl

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	RemoteDefault = "http://192.168.56.1:8000"
	LocalAndroid  = "http://10.0.2.2:8000"
	LocalLoopback = "http://127.0.0.1:8000"
)

type Mode int

const (
	ModeProduction Mode = iota
	ModeDevelopment
)

// ModeForEnv maps a deployment environment name to a build mode.
func ModeForEnv(env string) Mode {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "local", "dev", "development":
		return ModeDevelopment
	default:
		return ModeProduction
	}
}

func (m Mode) String() string {
	if m == ModeDevelopment {
		return "development"
	}
	return "production"
}

type Resolver struct {
	mode     Mode
	platform string
}

func NewResolver(mode Mode, platform string) *Resolver {
	return &Resolver{mode: mode, platform: platform}
}

// Default is the compiled-in origin for the resolver's build mode.
func (r *Resolver) Default() string {
	if r.mode == ModeDevelopment {
		return Sanitize(SuggestedLocalURL(r.platform))
	}
	return Sanitize(RemoteDefault)
}

// Resolve sanitizes raw, or returns Default when raw is blank.
func (r *Resolver) Resolve(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return r.Default()
	}
	return Sanitize(raw)
}

// SuggestedLocalURL is a developer hint only and is never applied
// automatically.
func (r *Resolver) SuggestedLocalURL() string {
	return SuggestedLocalURL(r.platform)
}

// SuggestedLocalURL returns the loopback address that reaches the
// developer's machine from the given platform.
func SuggestedLocalURL(platform string) string {
	if strings.EqualFold(strings.TrimSpace(platform), "android") {
		return LocalAndroid
	}
	return LocalLoopback
}

// Sanitize reduces value to its origin, or returns RemoteDefault if value
// is not an absolute http(s) URL.
func Sanitize(value string) string {
	origin, ok := origin(value)
	if !ok {
		return RemoteDefault
	}
	return origin
}

// Valid reports whether Sanitize would keep value rather than fall back.
func Valid(value string) bool {
	_, ok := origin(value)
	return ok
}

func origin(value string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return "", false
		}
		port = strconv.Itoa(n)
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, true
}
