package rpc

import (
	sdkerrors "cosmossdk.io/errors"
)

// RpcError is the wire error shape: a stable name for programmatic
// matching plus a human message. Domain errors keep their codespace and
// code so clients can tell a slippage rejection from a busy pool.
type RpcError struct {
	Name      string `json:"error"`
	Code      uint32 `json:"error_code"`
	Codespace string `json:"error_codespace,omitempty"`
	Message   string `json:"error_message"`
}

func (e *RpcError) Error() string { return e.Message }

func newError(name, message string) *RpcError {
	return &RpcError{Name: name, Message: message}
}

func errMethodNotFound(method string) *RpcError {
	return newError("unknownCmd", "method not found: "+method)
}

func errInvalidParams(message string) *RpcError {
	return newError("invalidParams", message)
}

func errForbidden() *RpcError {
	return newError("noPermission", "this method requires the admin principal")
}

// wrapDomainError turns any core error into an RpcError, preserving the
// registered codespace and code when present.
func wrapDomainError(err error) *RpcError {
	codespace, code, log := sdkerrors.ABCIInfo(err, false)
	name := "internal"
	if codespace != sdkerrors.UndefinedCodespace {
		name = codespace
	}
	return &RpcError{
		Name:      name,
		Code:      code,
		Codespace: codespace,
		Message:   log,
	}
}
