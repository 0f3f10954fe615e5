package rpc

import (
	"errors"
	"fmt"
)

// Local misuse errors. These are returned synchronously at the call site
// and never cross the wire.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrTargetNotSet     = errors.New("no target object is set on this peer")
	ErrCanceled         = errors.New("the call was canceled before it was transmitted")
)

// Error is implemented by all errors that carry a JSON-RPC error code.
type Error interface {
	error
	ErrorCode() int
}

type invalidRequestError struct{ message string }

func (e *invalidRequestError) Error() string { return e.message }
func (e *invalidRequestError) ErrorCode() int { return codeInvalidRequest }

type invalidMessageError struct{ message string }

func (e *invalidMessageError) Error() string { return e.message }
func (e *invalidMessageError) ErrorCode() int { return codeParseError }

type invalidParamsError struct{ message string }

func (e *invalidParamsError) Error() string { return e.message }
func (e *invalidParamsError) ErrorCode() int { return codeInvalidParams }

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) Error() string {
	return fmt.Sprintf("the method %s does not exist / is not available", e.method)
}
func (e *methodNotFoundError) ErrorCode() int { return codeMethodNotFound }

// MethodNotFoundError is returned by Invoke when the remote peer reports
// that no method matched the request.
type MethodNotFoundError struct {
	Method  string
	Message string
}

func (e *MethodNotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("the method %s does not exist / is not available", e.Method)
}
func (e *MethodNotFoundError) ErrorCode() int { return codeMethodNotFound }

// RemoteCallError is returned by Invoke when the remote target raised a
// failure while executing the request. RemoteCode and RemoteStack are
// recovered from the error's data payload; both are empty for a call the
// remote side canceled.
type RemoteCallError struct {
	Message     string
	Code        int
	RemoteCode  string
	RemoteStack string
}

func (e *RemoteCallError) Error() string { return e.Message }
func (e *RemoteCallError) ErrorCode() int { return e.Code }

// Canceled reports whether the remote side completed the call as canceled
// rather than failed.
func (e *RemoteCallError) Canceled() bool { return e.Code == codeRequestCanceled }

// DisconnectedError completes every in-flight call when the connection
// dies, and fails all subsequent calls fast.
type DisconnectedError struct {
	Description string
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("the JSON-RPC connection was lost: %s", e.Description)
}
