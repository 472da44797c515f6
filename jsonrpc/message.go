// Package jsonrpc implements the JSON-RPC 2.0 message envelope used by the
// MCP dispatch core: strict decoding of requests, notifications and
// responses, batch framing, and the reserved protocol error codes.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is a generic JSON-RPC message (request, notification, or response).
//
// Exactly one of the following holds for a valid Message: Method is set (a
// request when ID is non-nil, a notification when ID is nil), or exactly one
// of Result/Error is set (a response, which must carry the originating
// request's ID). Both UnmarshalJSON and MarshalJSON enforce these rules.
type Message struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewRequest builds a request (or, with a nil id, a notification) for the
// given method. Params may be nil.
func NewRequest(id *RequestID, method string, params any) (*Message, error) {
	m := &Message{JSONRPCVersion: ProtocolVersion, Method: method, ID: id}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		m.Params = b
	}
	return m, nil
}

// NewNotification builds a notification for the given method.
func NewNotification(method string, params any) (*Message, error) {
	return NewRequest(nil, method, params)
}

// NewResultResponse builds a successful JSON-RPC response.
func NewResultResponse(id *RequestID, result any) (*Message, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Message{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Message {
	return &Message{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Type returns "request", "notification", or "response".
func (m *Message) Type() string {
	if m.Method != "" {
		if m.ID.IsNil() {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// IsNotification reports whether the message is a notification and therefore
// must never receive a response.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID.IsNil()
}

// IsRequest reports whether the message is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && !m.ID.IsNil()
}

// IsResponse reports whether the message is a success or error response.
func (m *Message) IsResponse() bool {
	return m.Method == ""
}

// UnmarshalJSON implements custom JSON unmarshaling for Message.
// It enforces JSON-RPC 2.0 semantics and validates message structure.
func (m *Message) UnmarshalJSON(data []byte) error {
	type rawMessage struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method,omitempty"`
		Params         json.RawMessage `json:"params,omitempty"`
		Result         json.RawMessage `json:"result,omitempty"`
		Error          *Error          `json:"error,omitempty"`
		ID             *RequestID      `json:"id,omitempty"`
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return de
		}
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return decodeErrorf(ErrorCodeParseError, "invalid JSON: %v", err)
		}
		return decodeErrorf(ErrorCodeInvalidRequest, "invalid message shape: %v", err)
	}

	if raw.JSONRPCVersion != ProtocolVersion {
		return decodeErrorf(ErrorCodeInvalidRequest, "invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return decodeErrorf(ErrorCodeInvalidRequest, "request message cannot have result or error fields")
		}
		if err := validateParams(raw.Params); err != nil {
			return err
		}
	} else {
		if hasResult && hasError {
			return decodeErrorf(ErrorCodeInvalidRequest, "response message cannot have both result and error fields")
		}
		if !hasResult && !hasError {
			return decodeErrorf(ErrorCodeInvalidRequest, "message must have a method or a result/error field")
		}
		if raw.ID.IsNil() && hasResult {
			return decodeErrorf(ErrorCodeInvalidRequest, "response message must carry the originating request id")
		}
	}

	m.JSONRPCVersion = raw.JSONRPCVersion
	m.Method = raw.Method
	m.Params = raw.Params
	m.Result = raw.Result
	m.Error = raw.Error
	m.ID = raw.ID

	return nil
}

// validateParams rejects params of a disallowed JSON type. The protocol
// carries params as an object (or null); scalars and positional arrays are
// invalid-params conditions.
func validateParams(params json.RawMessage) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return decodeErrorf(ErrorCodeInvalidParams, "params must be an object, got: %s", preview(trimmed))
	}
	return nil
}

func preview(b []byte) string {
	const max = 32
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler. It fails when the message state is
// inconsistent, e.g. a result response without an id.
func (m *Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method,omitempty"`
		Params         json.RawMessage `json:"params,omitempty"`
		Result         json.RawMessage `json:"result,omitempty"`
		Error          *Error          `json:"error,omitempty"`
		ID             json.RawMessage `json:"id,omitempty"`
	}

	w := wire{JSONRPCVersion: m.JSONRPCVersion}
	if w.JSONRPCVersion == "" {
		w.JSONRPCVersion = ProtocolVersion
	}

	hasResult := len(m.Result) > 0
	hasError := m.Error != nil

	if m.Method != "" {
		if hasResult || hasError {
			return nil, fmt.Errorf("inconsistent message: method %q set alongside result or error", m.Method)
		}
		w.Method = m.Method
		w.Params = m.Params
		if !m.ID.IsNil() {
			idBytes, err := json.Marshal(m.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal id: %w", err)
			}
			w.ID = idBytes
		}
		return json.Marshal(w)
	}

	switch {
	case hasResult && hasError:
		return nil, fmt.Errorf("inconsistent message: both result and error set")
	case hasResult:
		if m.ID.IsNil() {
			return nil, fmt.Errorf("inconsistent message: result response requires an id")
		}
		idBytes, err := json.Marshal(m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal id: %w", err)
		}
		w.Result = m.Result
		w.ID = idBytes
	case hasError:
		w.Error = m.Error
		// Error responses to undecodable requests carry an explicit null id.
		idBytes, err := json.Marshal(m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal id: %w", err)
		}
		w.ID = idBytes
	default:
		return nil, fmt.Errorf("inconsistent message: neither method nor result/error set")
	}

	return json.Marshal(w)
}

// Decode parses a single wire message. On failure it returns a *DecodeError
// carrying the JSON-RPC error code the caller should answer with.
func Decode(data []byte) (*Message, error) {
	if !json.Valid(data) {
		return nil, decodeErrorf(ErrorCodeParseError, "invalid JSON")
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, decodeErrorf(ErrorCodeInvalidRequest, "invalid JSON-RPC message: %v", err)
	}
	return &m, nil
}

// DecodeBatch parses a wire payload that is either a single message object or
// a batch array of messages, normalizing to a batch. Decoding is
// all-or-nothing: a single malformed element fails the entire batch.
func DecodeBatch(data []byte) ([]*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, decodeErrorf(ErrorCodeParseError, "empty payload")
	}

	if trimmed[0] != '[' {
		m, err := Decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Message{m}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, decodeErrorf(ErrorCodeParseError, "invalid JSON batch: %v", err)
	}
	if len(elements) == 0 {
		return nil, decodeErrorf(ErrorCodeInvalidRequest, "empty batch")
	}

	batch := make([]*Message, 0, len(elements))
	for i, el := range elements {
		m, err := Decode(el)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				return nil, decodeErrorf(de.Code, "batch element %d: %s", i, de.Msg)
			}
			return nil, err
		}
		batch = append(batch, m)
	}
	return batch, nil
}

// Encode serializes a single message to its wire form, enforcing the Message
// invariants.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// EncodeBatch serializes an ordered sequence of messages to a JSON array,
// preserving order.
func EncodeBatch(batch []*Message) ([]byte, error) {
	if batch == nil {
		batch = []*Message{}
	}
	return json.Marshal(batch)
}
