// Package response turns the outcome of a correlated call into a native
// value or a typed error.
package response

import (
	"github.com/blocknative/ethrpc/correlation"
	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/schema"
)

type Decoder struct {
	cat *schema.Catalog
}

func NewDecoder(cat *schema.Catalog) *Decoder {
	return &Decoder{cat: cat}
}

// Decode interprets o for method. Server error objects become *jsonrpc.Error
// with their mapped kind, results are validated against result, and local
// failures recorded in the outcome pass through untouched.
func (d *Decoder) Decode(method string, result *schema.Spec, o correlation.Outcome) (any, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Error != nil {
		return nil, d.MapError(method, o.Error)
	}
	if result == nil {
		return nil, nil
	}
	return d.cat.DecodeValue(result, o.Result)
}

func (d *Decoder) MapError(method string, e *jsonrpc.Error) *jsonrpc.Error {
	mapped := *e
	mapped.Method = method
	mapped.Kind = jsonrpc.ErrGeneric
	if k, ok := d.cat.ErrorKind(method, e.Code); ok {
		mapped.Kind = k
	}
	return &mapped
}
