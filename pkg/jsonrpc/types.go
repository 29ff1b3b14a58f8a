// Package jsonrpc holds the canonical request/response shapes every calling
// convention is normalized to, the provider error taxonomy, and the HTTP client
// used to forward unrecognized methods to a remote node.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version produced or accepted.
const Version = "2.0"

// Request is the canonical request: method, ordered params and correlation id.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int64             `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// NewRequest builds a request, JSON-encoding every param in order.
func NewRequest(id int64, method string, params ...any) (Request, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return Request{}, InvalidInput("param %d of %s: %v", i, method, err)
		}
		raw = append(raw, b)
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// MarshalJSON always emits a params array, never null.
func (r Request) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      int64             `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
	}
	params := r.Params
	if params == nil {
		params = []json.RawMessage{}
	}
	version := r.JSONRPC
	if version == "" {
		version = Version
	}
	return json.Marshal(wire{JSONRPC: version, ID: r.ID, Method: r.Method, Params: params})
}

// Param returns the i-th raw param, or nil when absent.
func (r Request) Param(i int) json.RawMessage {
	if i < 0 || i >= len(r.Params) {
		return nil
	}
	return r.Params[i]
}

// Response carries exactly one of Result or Error.
type Response struct {
	JSONRPC string
	ID      int64
	Result  any
	Error   *Error
}

// NewResult wraps a result for the given correlation id.
func NewResult(id int64, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse converts err into its wire form for the given correlation id.
func NewErrorResponse(id int64, err error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: AsError(err)}
}

type responseWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MarshalJSON emits "result" (possibly null) when there is no error and
// omits it otherwise.
func (r *Response) MarshalJSON() ([]byte, error) {
	version := r.JSONRPC
	if version == "" {
		version = Version
	}
	if r.Error != nil {
		return json.Marshal(responseWire{JSONRPC: version, ID: r.ID, Error: r.Error})
	}
	result, err := json.Marshal(r.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return json.Marshal(responseWire{JSONRPC: version, ID: r.ID, Result: result})
}

// UnmarshalJSON keeps the result as json.RawMessage.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w responseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.JSONRPC = w.JSONRPC
	r.ID = w.ID
	r.Error = w.Error
	r.Result = nil
	if w.Error != nil {
		w.Error.Kind = KindRemote
	}
	if len(w.Result) > 0 {
		r.Result = w.Result
	}
	return nil
}

// Err returns the response error as an error value, or nil.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}
