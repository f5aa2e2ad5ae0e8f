package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeNotSubscribed = "not_subscribed"
)

// ErrUnknownConnection is returned when a connection ID was never added.
var ErrUnknownConnection = errors.New("unknown connection")

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
