package schema

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Object is a decoded structure: the fields the schema knows, decoded to
// native values, plus whatever else the server sent, kept verbatim.
type Object struct {
	Fields map[string]any
	Extra  map[string]json.RawMessage
}

func NewObject() *Object {
	return &Object{Fields: make(map[string]any)}
}

func (o *Object) Set(name string, v any) *Object {
	o.Fields[name] = v
	return o
}

func (o *Object) Get(name string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.Fields[name]
	return v, ok
}

func (o *Object) Quantity(name string) *big.Int {
	v, _ := o.Get(name)
	b, _ := v.(*big.Int)
	return b
}

func (o *Object) Uint64(name string) uint64 {
	if b := o.Quantity(name); b != nil && b.IsUint64() {
		return b.Uint64()
	}
	return 0
}

func (o *Object) Bytes(name string) []byte {
	v, _ := o.Get(name)
	b, _ := v.([]byte)
	return b
}

func (o *Object) String(name string) string {
	v, _ := o.Get(name)
	s, _ := v.(string)
	return s
}

func (o *Object) Bool(name string) bool {
	v, _ := o.Get(name)
	b, _ := v.(bool)
	return b
}

func (o *Object) Object(name string) *Object {
	v, _ := o.Get(name)
	obj, _ := v.(*Object)
	return obj
}

func (o *Object) Array(name string) []any {
	v, _ := o.Get(name)
	a, _ := v.([]any)
	return a
}

// MarshalJSON renders the object back in wire form.
func (o *Object) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Fields)+len(o.Extra))
	for k, raw := range o.Extra {
		out[k] = raw
	}
	for k, v := range o.Fields {
		out[k] = ToWire(v)
	}
	return json.Marshal(out)
}

// ToWire converts a decoded native value to its JSON-RPC representation.
func ToWire(v any) any {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil
		}
		return hexutil.EncodeBig(t)
	case []byte:
		return hexutil.Encode(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = ToWire(t[i])
		}
		return out
	}
	return v
}
