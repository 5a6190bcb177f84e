package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents an inbound JSON-RPC call. A request with a nil ID is a
// notification: it must never produce a response body, success or failure.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the call carried no id.
func (r *Request) IsNotification() bool {
	return r.ID.IsNil()
}

// UnmarshalJSON enforces JSON-RPC 2.0 framing on inbound calls.
func (r *Request) UnmarshalJSON(data []byte) error {
	type rawRequest struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method"`
		Params         json.RawMessage `json:"params,omitempty"`
		ID             *RequestID      `json:"id,omitempty"`
	}

	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}
	if raw.Method == "" {
		return fmt.Errorf("request message must have a method")
	}

	r.JSONRPCVersion = raw.JSONRPCVersion
	r.Method = raw.Method
	r.Params = raw.Params
	r.ID = raw.ID
	return nil
}

// Response represents a JSON-RPC response. Exactly one of Result or Error is
// populated.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}
