// Package apierr defines the typed error kinds the broker surfaces (§7)
// and their mapping onto HTTP status codes.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind classifies a failure the way §7 enumerates them.
type Kind int

const (
	_ Kind = iota
	BadRequest
	Unauthorized
	Forbidden
	NotFound
	Conflict
	UpstreamError
	ServerError
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "BadRequest"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case UpstreamError:
		return "UpstreamError"
	case ServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// Status returns the HTTP status code §7 assigns to this kind.
// UpstreamError maps to 502; callers that need the 500 alternate for a
// failed-refresh response construct it explicitly (see lifecycle.RefreshResult).
func (k Kind) Status() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case UpstreamError:
		return http.StatusBadGateway
	case ServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the broker's typed error: a Kind plus a human-readable message
// and optional structured details for the {status, message, details}
// error envelope (§6).
type Error struct {
	Kind    Kind
	Message string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error with no details payload.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches a details payload, mirroring the original's
// practice of returning field-level validation context alongside a
// message (e.g. which lifetime bound was violated).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// As reports whether err is an *Error of the given kind.
func As(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
