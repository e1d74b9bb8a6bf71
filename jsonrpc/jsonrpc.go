// Package jsonrpc holds the JSON-RPC 2.0 wire envelopes and the server error
// taxonomy shared by the rest of the client.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const Version = "2.0"

var ErrEmptyFrame = errors.New("empty frame")

type Request struct {
	Version string  `json:"jsonrpc"`
	ID      *uint64 `json:"id,omitempty"`
	Method  string  `json:"method"`
	Params  []any   `json:"params"`
}

func NewRequest(id uint64, method string, params []any) *Request {
	if params == nil {
		params = []any{}
	}
	return &Request{Version: Version, ID: &id, Method: method, Params: params}
}

func NewNotification(method string, params []any) *Request {
	if params == nil {
		params = []any{}
	}
	return &Request{Version: Version, Method: method, Params: params}
}

func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is one inbound object. Server-initiated notifications share the
// shape and carry Method/Params instead of an id.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// CallID returns the numeric id the client allocated, if the response
// carries one.
func (r *Response) CallID() (uint64, bool) {
	id := bytes.TrimSpace(r.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return 0, false
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return 0, false
		}
		id = []byte(s)
	}
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Response) IsNotification() bool {
	_, ok := r.CallID()
	return !ok && r.Method != ""
}

// ParseFrame splits an inbound frame into its objects. batch reports whether
// the frame was a JSON array.
func ParseFrame(frame []byte) (msgs []Response, batch bool, err error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, false, ErrEmptyFrame
	}

	if frame[0] == '[' {
		if err := json.Unmarshal(frame, &msgs); err != nil {
			return nil, true, fmt.Errorf("decode batch frame: %w", err)
		}
		return msgs, true, nil
	}

	var r Response
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, false, fmt.Errorf("decode frame: %w", err)
	}
	return []Response{r}, false, nil
}
