package service

import (
	"errors"
	"net/http"
)

// Kind classifies service failures for the HTTP layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindBadRequest
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the response status the API uses for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-facing failure. Message is safe to return to callers;
// Err, when set, is the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Unauthorized(message string) *Error { return newError(KindUnauthorized, message, nil) }
func BadRequest(message string) *Error   { return newError(KindBadRequest, message, nil) }
func Conflict(message string) *Error     { return newError(KindConflict, message, nil) }
func NotFound(message string) *Error     { return newError(KindNotFound, message, nil) }

// Internal wraps an unexpected failure behind a generic message.
func Internal(message string, cause error) *Error {
	return newError(KindInternal, message, cause)
}

// KindOf reports the kind of err; anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Client-facing messages.
const (
	MsgInvalidCredentials = "Invalid credentials"
	MsgBanned             = "Access denied. You are banned."
	MsgAdminsOnly         = "Access denied. Admins only."
	MsgEmailInUse         = "Email already in use"
	MsgInvalidToken       = "Invalid token"
	MsgLoggedOut          = "Successfully logged out"

	MsgNoToken                 = "No token provided"
	MsgTokenInvalidated        = "Token has been invalidated"
	MsgInvalidOrExpiredToken   = "Invalid or expired token"
	MsgUserNotFoundOrBanned    = "User not found or banned"
	MsgInsufficientPermissions = "Insufficient permissions"
)
