package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC id that can be either a string or a number.
// A nil *RequestID means the message carried no id field at all, which is the
// sole thing that distinguishes a notification from a request.
type RequestID struct {
	value any
}

// NewRequestID creates a RequestID from a string or numeric value.
func NewRequestID(value any) *RequestID {
	switch v := value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &RequestID{value: v}
	default:
		return &RequestID{value: nil}
	}
}

// String returns the string representation of the id, or "" for a nil id.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsNil reports whether the id is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		// Preserve integral ids as integers so they round-trip unchanged.
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	var null any
	if err := json.Unmarshal(data, &null); err == nil && null == nil {
		id.value = nil
		return nil
	}

	return fmt.Errorf("invalid JSON-RPC id: %s", string(data))
}
