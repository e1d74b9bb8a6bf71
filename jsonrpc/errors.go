package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies a server error object. Kinds are plain strings so
// schemas can name their own; match with errors.Is.
type ErrorKind string

func (k ErrorKind) Error() string {
	return string(k)
}

const (
	ErrParse          ErrorKind = "parse error"
	ErrInvalidRequest ErrorKind = "invalid request"
	ErrMethodNotFound ErrorKind = "method not found"
	ErrInvalidParams  ErrorKind = "invalid params"
	ErrInternal       ErrorKind = "internal error"

	// ErrGeneric is used for codes with no mapping.
	ErrGeneric ErrorKind = "rpc error"
)

const (
	CodeParse          int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternal       int64 = -32603
)

type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// set by the decoder
	Kind   ErrorKind `json:"-"`
	Method string    `json:"-"`
}

func (e *Error) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = ErrGeneric
	}
	if e.Method != "" {
		return fmt.Sprintf("%s: %s (code %d): %s", e.Method, kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (code %d): %s", kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Kind == "" {
		return ErrGeneric
	}
	return e.Kind
}
