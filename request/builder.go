// Package request turns a method name and native arguments into a validated
// JSON-RPC envelope.
package request

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/schema"
)

type ArityError struct {
	Method string
	Got    int
	Min    int
	Max    int
}

func (e *ArityError) Error() string {
	if e.Min == e.Max {
		return fmt.Sprintf("%s: expected %d arguments, got %d", e.Method, e.Min, e.Got)
	}
	return fmt.Sprintf("%s: expected %d to %d arguments, got %d", e.Method, e.Min, e.Max, e.Got)
}

// IDSource hands out request ids; the correlation table is the usual one.
type IDSource interface {
	NextID() uint64
}

type Built struct {
	Request *jsonrpc.Request
	Method  *schema.Method
	Result  *schema.Spec
}

type Builder struct {
	cat *schema.Catalog
	ids IDSource
}

func NewBuilder(cat *schema.Catalog, ids IDSource) *Builder {
	return &Builder{cat: cat, ids: ids}
}

// Build validates args against the method and allocates an id. Nothing is
// allocated when validation fails.
func (b *Builder) Build(method string, args ...any) (*Built, error) {
	m, params, err := b.encode(method, args)
	if err != nil {
		return nil, err
	}
	return &Built{
		Request: jsonrpc.NewRequest(b.ids.NextID(), m.Name, params),
		Method:  m,
		Result:  m.ResultFor(params),
	}, nil
}

func (b *Builder) BuildNotification(method string, args ...any) (*Built, error) {
	m, params, err := b.encode(method, args)
	if err != nil {
		return nil, err
	}
	return &Built{
		Request: jsonrpc.NewNotification(m.Name, params),
		Method:  m,
	}, nil
}

func (b *Builder) encode(method string, args []any) (*schema.Method, []any, error) {
	m, err := b.cat.Lookup(method)
	if err != nil {
		return nil, nil, err
	}

	required := m.Required()
	// trailing absent optionals are simply left off the wire
	for len(args) > required && absent(args[len(args)-1]) {
		args = args[:len(args)-1]
	}
	if len(args) < required || len(args) > len(m.Params) {
		return nil, nil, &ArityError{Method: m.Name, Got: len(args), Min: required, Max: len(m.Params)}
	}

	params := make([]any, len(args))
	for i, arg := range args {
		p := &m.Params[i]
		if !p.Required && absent(arg) {
			params[i] = nil
			continue
		}

		v, err := b.cat.EncodeValue(&p.Spec, arg)
		if err != nil {
			var ve *schema.ValidationError
			if errors.As(err, &ve) {
				cp := *ve
				cp.Index, cp.Param = i, p.Name
				return nil, nil, &cp
			}
			return nil, nil, fmt.Errorf("%s: param %d (%s): %w", m.Name, i, p.Name, err)
		}
		params[i] = v
	}
	return m, params, nil
}

func absent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
