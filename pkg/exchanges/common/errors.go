package common

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrNotConnected      = errors.New("socket not connected")
)

// AuthError means the bearer token was refused or could not be obtained.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: auth: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transient transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a frame or response that could not be interpreted.
type ProtocolError struct {
	Op      string
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("%s: protocol: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// OrderRejectedError is an exchange-side validation failure.
type OrderRejectedError struct {
	Code    string
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected: [%s] %s", e.Code, e.Message)
}

func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

func IsRejected(err error) bool {
	var target *OrderRejectedError
	return errors.As(err, &target)
}
