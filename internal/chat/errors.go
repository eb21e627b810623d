package chat

import "errors"

var (
	ErrAuthInvalid      = errors.New("auth invalid")
	ErrNotFound         = errors.New("not found")
	ErrSenderNotFound   = wrapNotFound("sender not found")
	ErrReceiverNotFound = wrapNotFound("receiver not found")
	ErrPersistence      = errors.New("persistence error")
	ErrProtocolMisuse   = errors.New("protocol misuse")
)

type notFoundError struct{ msg string }

func wrapNotFound(msg string) error { return &notFoundError{msg: msg} }

func (e *notFoundError) Error() string { return e.msg }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

// FailurePolicy decides what happens to a connection after a failed operation.
type FailurePolicy int

const (
	// PolicyReport emits error_message and keeps the connection.
	PolicyReport FailurePolicy = iota
	// PolicyDisconnect emits error_message and closes the connection.
	PolicyDisconnect
)

func (p FailurePolicy) String() string {
	if p == PolicyDisconnect {
		return "disconnect"
	}
	return "report"
}

// handshakePolicy: a connection that fails authentication never becomes active.
func handshakePolicy(error) FailurePolicy {
	return PolicyDisconnect
}

// sendPolicy keeps the asymmetry between sender and receiver lookups:
// a verified token whose user no longer exists is a stale session.
func sendPolicy(err error) FailurePolicy {
	switch {
	case errors.Is(err, ErrSenderNotFound):
		return PolicyDisconnect
	default:
		return PolicyReport
	}
}
