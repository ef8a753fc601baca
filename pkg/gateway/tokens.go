package gateway

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore is the credential storage the gateway reads before every call.
type TokenStore interface {
	Token() string
	Clear()
}

// Navigator moves the user to another route. In a CLI it usually just logs.
type Navigator interface {
	CurrentPath() string
	Redirect(path string)
}

// MemoryTokenStore keeps a persistent and a session-scoped slot; the
// persistent slot wins when both are set.
type MemoryTokenStore struct {
	mu         sync.Mutex
	persistent string
	session    string
}

func NewMemoryTokenStore(persistent, session string) *MemoryTokenStore {
	return &MemoryTokenStore{
		persistent: strings.TrimSpace(persistent),
		session:    strings.TrimSpace(session),
	}
}

func (s *MemoryTokenStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistent != "" {
		return s.persistent
	}
	return s.session
}

func (s *MemoryTokenStore) SetPersistent(token string) {
	s.mu.Lock()
	s.persistent = strings.TrimSpace(token)
	s.mu.Unlock()
}

func (s *MemoryTokenStore) SetSession(token string) {
	s.mu.Lock()
	s.session = strings.TrimSpace(token)
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	s.persistent = ""
	s.session = ""
	s.mu.Unlock()
}

// LogNavigator records the current path and logs redirects.
type LogNavigator struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewLogNavigator(current string, logger *slog.Logger) *LogNavigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNavigator{path: current, logger: logger}
}

func (n *LogNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *LogNavigator) Redirect(path string) {
	n.mu.Lock()
	n.path = path
	n.mu.Unlock()
	n.logger.Warn("session ended, sign in again", "route", path)
}

// TokenExpired decodes the exp claim without verifying the signature.
// Tokens that are not JWTs, or carry no exp, are never reported expired.
func TokenExpired(token string, now time.Time) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

var permissionMarkers = []string{
	"permission",
	"forbidden",
	"not authorized",
	"unauthorized to",
	"access denied",
	"insufficient",
}

// permissionFlavored reports whether a 401 message describes a missing
// privilege rather than a dead session.
func permissionFlavored(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range permissionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
