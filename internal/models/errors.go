package models

import "errors"

// Authentication errors
var (
	ErrInvalidCredential    = errors.New("invalid or expired credential")
	ErrRoleMismatch         = errors.New("claimed role does not match account role")
	ErrInactiveUser         = errors.New("user account is inactive")
	ErrNotAuthenticated     = errors.New("connection is not authenticated")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
)

// Authorization errors
var (
	ErrForbidden = errors.New("not permitted")
)

// Not-found errors
var (
	ErrRoomNotFound    = errors.New("class session not found or not active")
	ErrTargetNotInRoom = errors.New("target is not in the room")
	ErrNotInRoom       = errors.New("connection is not in the room")
	ErrUnknownHandle   = errors.New("unknown connection handle")
)

// Validation errors
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownRequest = errors.New("unknown request type")
)

// Transient infrastructure errors
var (
	ErrStoreUnavailable     = errors.New("presence store unavailable")
	ErrBusUnavailable       = errors.New("event bus unavailable")
	ErrDirectoryUnavailable = errors.New("class directory unavailable")
)

// ErrorKind is the reason category reported to clients.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindTransient      ErrorKind = "unavailable"
	KindInternal       ErrorKind = "internal"
)

// Close codes sent when a connection is refused.
const (
	CloseUnauthenticated  = 4001
	CloseStoreUnavailable = 4002
	CloseForbidden        = 4003
	CloseRoomNotFound     = 4004
)

// KindOf classifies err into the client-visible taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrRoleMismatch),
		errors.Is(err, ErrInactiveUser),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrAlreadyAuthenticated):
		return KindAuthentication
	case errors.Is(err, ErrForbidden):
		return KindAuthorization
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrTargetNotInRoom),
		errors.Is(err, ErrNotInRoom),
		errors.Is(err, ErrUnknownHandle):
		return KindNotFound
	case errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrUnknownRequest):
		return KindValidation
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrBusUnavailable),
		errors.Is(err, ErrDirectoryUnavailable):
		return KindTransient
	default:
		return KindInternal
	}
}

// CloseCode maps a connection-terminating error to its close code.
func CloseCode(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return CloseUnauthenticated
	case KindAuthorization:
		return CloseForbidden
	case KindNotFound:
		return CloseRoomNotFound
	case KindTransient:
		return CloseStoreUnavailable
	default:
		return 1011 // internal server error
	}
}

var publicErrors = []error{
	ErrInvalidCredential, ErrRoleMismatch, ErrInactiveUser, ErrNotAuthenticated, ErrAlreadyAuthenticated,
	ErrForbidden,
	ErrRoomNotFound, ErrTargetNotInRoom, ErrNotInRoom, ErrUnknownHandle,
	ErrInvalidMessage, ErrUnknownRequest,
	ErrStoreUnavailable, ErrBusUnavailable, ErrDirectoryUnavailable,
}

// Reason is the client-safe description of err: the text of the first known
// sentinel it wraps, without the wrapped detail.
func Reason(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
