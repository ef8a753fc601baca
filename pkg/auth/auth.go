// Package auth issues and verifies the HS256 bearer tokens the mock UNITE
// API accepts. Claims carry the viewer's capability strings so handlers can
// resolve actions the same way the client does.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Pkv562/UNITE/pkg/capability"
	"github.com/Pkv562/UNITE/pkg/httpx"
)

// SessionExpiredMessage is the body message of every 401 so clients route
// it through their session-expiry handling.
const SessionExpiredMessage = "Session expired. Please sign in again."

type Claims struct {
	Perms []string `json:"perms,omitempty"`
	Name  string   `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Name   string
	Grants []capability.Grant
}

func (p Principal) Viewer() capability.Viewer {
	return capability.Viewer{UserID: p.UserID, Grants: p.Grants}
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// Anonymous is used when verification is disabled: every capability on
// every resource.
var Anonymous = Principal{UserID: "anonymous", Grants: []capability.Grant{{Resource: capability.Wildcard, Actions: []string{capability.Wildcard}}}}

type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool { return v != nil && len(v.secret) > 0 }

// Issue signs a token for subject holding perms, valid for ttl.
func (v *Verifier) Issue(subject, name string, perms []string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("token signing secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := v.now()
	claims := Claims{
		Perms: perms,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks signature, expiry and issuer and returns the principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return v.secret, nil }, opts...)
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{UserID: claims.Subject, Name: claims.Name, Grants: capability.ParseGrants(claims.Perms)}, nil
}

// Middleware authenticates the bearer token. With verification disabled
// every request runs as Anonymous.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Anonymous)))
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			httpx.Error(w, http.StatusUnauthorized, SessionExpiredMessage)
			return
		}
		p, err := v.Verify(strings.TrimSpace(header[7:]))
		if err != nil {
			httpx.Error(w, http.StatusUnauthorized, SessionExpiredMessage)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
