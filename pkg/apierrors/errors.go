package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure so callers can branch with one errors.As.
type Kind string

const (
	KindTransport      Kind = "transport"
	KindContract       Kind = "contract"
	KindSessionExpired Kind = "session_expired"
	KindForbidden      Kind = "forbidden"
	KindValidation     Kind = "validation"
	KindHTTP           Kind = "http"
)

const (
	DefaultRequestFailed  = "Request failed"
	DefaultContractFailed = "The server could not complete the request"
	TokenExpiredMessage   = "Token expired. Please sign in again."
)

// Error is the single error shape surfaced by the gateway, the envelope
// unwrap and client-side validation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Body    map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsAuthError reports 401/403 responses.
func (e *Error) IsAuthError() bool {
	if e == nil {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func Transport(op string, err error) *Error {
	msg := DefaultRequestFailed
	return &Error{Kind: KindTransport, Op: op, Message: msg, Err: err}
}

func Contract(op, message string) *Error {
	if strings.TrimSpace(message) == "" {
		message = DefaultContractFailed
	}
	return &Error{Kind: KindContract, Op: op, Message: message}
}

func SessionExpired(op string) *Error {
	return &Error{Kind: KindSessionExpired, Op: op, Message: TokenExpiredMessage, Status: http.StatusUnauthorized}
}

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// FromStatus builds the error for a non-2xx response. The message prefers
// body.message, then body.error, then the HTTP status text.
func FromStatus(op string, status int, body map[string]any, permissionFlavored bool) *Error {
	msg := bodyMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = DefaultRequestFailed
	}
	kind := KindHTTP
	switch {
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusUnauthorized && permissionFlavored:
		kind = KindForbidden
	case status == http.StatusUnauthorized:
		kind = KindSessionExpired
	}
	return &Error{Kind: kind, Op: op, Message: msg, Status: status, Body: body}
}

func bodyMessage(body map[string]any) string {
	if body == nil {
		return ""
	}
	for _, key := range []string{"message", "error"} {
		if s, ok := body[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Message is the display string for err, surviving intact from server to UI.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultRequestFailed
}
