// Package hardening refuses insecure settings when a process runs in a
// production-like environment. Development environments are never checked.
package hardening

import (
	"fmt"
	"net/url"
	"strings"
)

type Requirement struct {
	Name  string
	Value string
}

type Options struct {
	Service     string
	Environment string
	// Strict defaults to true; "false" turns the checks off even in
	// production.
	Strict string

	APIURL       string
	RedisAddr    string
	RedisTLS     bool
	CORSOrigins  string
	DevEndpoints bool
	Required     []Requirement
}

func ValidateProduction(o Options) error {
	if !IsProductionLike(o.Environment) || !isTrue(o.Strict, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	if raw := strings.TrimSpace(o.APIURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Scheme, "https") {
			return fmt.Errorf("%s: production requires an https API URL, got %q", service, raw)
		}
	}
	if strings.TrimSpace(o.RedisAddr) != "" && !o.RedisTLS {
		return fmt.Errorf("%s: production requires TLS for redis at %s", service, o.RedisAddr)
	}
	if o.CORSOrigins != "" {
		if err := validateCORSOrigins(o.CORSOrigins, service); err != nil {
			return err
		}
	}
	if o.DevEndpoints {
		return fmt.Errorf("%s: production forbids development endpoints", service)
	}
	for _, req := range o.Required {
		if strings.TrimSpace(req.Name) != "" && strings.TrimSpace(req.Value) == "" {
			return fmt.Errorf("%s: production requires %s", service, req.Name)
		}
	}
	return nil
}

func validateCORSOrigins(raw, service string) error {
	valid := 0
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		valid++
		lower := strings.ToLower(o)
		switch {
		case lower == "*":
			return fmt.Errorf("%s: production forbids the CORS wildcard origin", service)
		case isLoopback(lower):
			return fmt.Errorf("%s: production forbids loopback CORS origin %q", service, o)
		case !strings.HasPrefix(lower, "https://"):
			return fmt.Errorf("%s: production requires https CORS origins, got %q", service, o)
		}
	}
	if valid == 0 {
		return fmt.Errorf("%s: production requires explicit CORS origins", service)
	}
	return nil
}

func isLoopback(origin string) bool {
	for _, p := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func IsProductionLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production", "staging", "stage":
		return true
	}
	return false
}
