package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// DecodeError reports why a wire payload could not be decoded into a valid
// Message. Code is the JSON-RPC error code the caller should surface:
// ErrorCodeParseError for malformed JSON, ErrorCodeInvalidRequest for a
// structurally invalid envelope, and ErrorCodeInvalidParams for a params
// field of a disallowed type.
type DecodeError struct {
	Code ErrorCode
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode (%d): %s", e.Code, e.Msg)
}

func decodeErrorf(code ErrorCode, format string, a ...any) *DecodeError {
	return &DecodeError{Code: code, Msg: fmt.Sprintf(format, a...)}
}
