package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/blocknative/ethrpc/scalar"
)

// ValidationError reports a value whose shape does not match its Spec.
// Index is the parameter position for request arguments and -1 for results.
type ValidationError struct {
	Index  int
	Param  string
	Path   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Index >= 0 {
		return fmt.Sprintf("invalid param %d (%s): %s", e.Index, e.Param, msg)
	}
	return "invalid result: " + msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(path, reason string, err error) *ValidationError {
	if path == "" {
		path = "$"
	}
	return &ValidationError{Index: -1, Path: path, Reason: reason, Err: err}
}

var null = []byte("null")

// EncodeValue validates v against s and returns its JSON-RPC representation.
// Shape mismatches yield *ValidationError; values of the right shape that the
// wire format cannot carry yield *scalar.EncodingError.
func (c *Catalog) EncodeValue(s *Spec, v any) (any, error) {
	return c.encode(s, v, "$")
}

func (c *Catalog) encode(s *Spec, v any, path string) (any, error) {
	s, err := c.resolve(s)
	if err != nil {
		return nil, err
	}

	if isNil(v) {
		if s.Nullable || s.Kind == KindAny {
			return nil, nil
		}
		return nil, invalid(path, "missing value", scalar.ErrMissing)
	}
	if raw, ok := v.(json.RawMessage); ok {
		if _, err := c.decode(s, raw, path); err != nil {
			return nil, err
		}
		return raw, nil
	}

	switch s.Kind {
	case KindAny:
		return v, nil
	case KindQuantity:
		out, err := scalar.EncodeQuantity(v, s.Bits)
		return out, scalarErr(path, err)
	case KindBytes:
		out, err := scalar.EncodeBytes(v, s.Size)
		return out, scalarErr(path, err)
	case KindBoolean:
		out, err := scalar.EncodeBool(v)
		return out, scalarErr(path, err)
	case KindString:
		switch t := v.(type) {
		case string:
			return t, nil
		case fmt.Stringer:
			return t.String(), nil
		}
		return nil, invalid(path, fmt.Sprintf("expected string, got %T", v), nil)
	case KindEnum:
		out, err := scalar.EncodeEnum(v, s.Values)
		return out, scalarErr(path, err)
	case KindArray:
		return c.encodeArray(s, v, path)
	case KindObject:
		return c.encodeObject(s, v, path)
	case KindOneOf:
		var first error
		for _, variant := range s.Variants {
			out, err := c.encode(variant, v, path)
			if err == nil {
				return out, nil
			}
			if first == nil {
				first = err
			}
		}
		return nil, invalid(path, "no variant matches", first)
	}
	return nil, invalid(path, fmt.Sprintf("unknown kind %q", s.Kind), nil)
}

// scalarErr turns a wrong native type into a shape error and passes genuine
// representation failures through.
func scalarErr(path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, scalar.ErrUnsupported) || errors.Is(err, scalar.ErrMissing) {
		return invalid(path, "wrong type", err)
	}
	return err
}

func (c *Catalog) encodeArray(s *Spec, v any, path string) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, invalid(path, fmt.Sprintf("expected array, got %T", v), nil)
	}
	if s.Length > 0 && rv.Len() != s.Length {
		return nil, invalid(path, fmt.Sprintf("expected %d items, got %d", s.Length, rv.Len()), nil)
	}

	out := make([]any, rv.Len())
	for i := range out {
		item, err := c.encode(s.Items, rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}

func (c *Catalog) encodeObject(s *Spec, v any, path string) (any, error) {
	var (
		fields map[string]any
		extra  map[string]json.RawMessage
	)
	switch t := v.(type) {
	case *Object:
		fields, extra = t.Fields, t.Extra
	case Object:
		fields, extra = t.Fields, t.Extra
	case map[string]any:
		fields = t
	default:
		// typed structs go through their JSON form
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, invalid(path, fmt.Sprintf("cannot marshal %T", v), err)
		}
		if _, err := c.decode(s, raw, path); err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	}

	out := make(map[string]any, len(fields)+len(extra))
	known := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = struct{}{}
		fv, ok := fields[f.Name]
		if !ok || isNil(fv) {
			if f.Required && !f.Nullable {
				return nil, invalid(path+"."+f.Name, "missing required field", nil)
			}
			if ok {
				out[f.Name] = nil
			}
			continue
		}
		enc, err := c.encode(&f.Spec, fv, path+"."+f.Name)
		if err != nil {
			return nil, err
		}
		out[f.Name] = enc
	}

	for k, fv := range fields {
		if _, ok := known[k]; ok {
			continue
		}
		if !s.Open {
			return nil, invalid(path+"."+k, "unknown field", nil)
		}
		out[k] = ToWire(fv)
	}
	for k, raw := range extra {
		if _, ok := known[k]; ok {
			continue
		}
		if !s.Open {
			return nil, invalid(path+"."+k, "unknown field", nil)
		}
		out[k] = raw
	}
	return out, nil
}

// DecodeValue validates raw wire JSON against s and converts it to native
// values: *big.Int for quantities, []byte for byte strings, *Object for
// objects and []any for arrays. Absent and null decode to nil.
func (c *Catalog) DecodeValue(s *Spec, raw json.RawMessage) (any, error) {
	return c.decode(s, raw, "$")
}

func (c *Catalog) decode(s *Spec, raw json.RawMessage, path string) (any, error) {
	s, err := c.resolve(s)
	if err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, null) {
		if s.Nullable || s.Kind == KindAny {
			return nil, nil
		}
		return nil, invalid(path, "unexpected null", nil)
	}

	switch s.Kind {
	case KindAny:
		return append(json.RawMessage(nil), raw...), nil
	case KindQuantity:
		str, err := decodeString(raw, path)
		if err != nil {
			return nil, err
		}
		v, err := scalar.DecodeQuantity(str, s.Bits)
		if err != nil {
			return nil, invalid(path, "malformed quantity", err)
		}
		return v, nil
	case KindBytes:
		str, err := decodeString(raw, path)
		if err != nil {
			return nil, err
		}
		v, err := scalar.DecodeBytes(str, s.Size)
		if err != nil {
			return nil, invalid(path, "malformed bytes", err)
		}
		return v, nil
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, invalid(path, "expected boolean", nil)
		}
		return b, nil
	case KindString:
		return decodeString(raw, path)
	case KindEnum:
		str, err := decodeString(raw, path)
		if err != nil {
			return nil, err
		}
		if _, err := scalar.DecodeEnum(str, s.Values); err != nil {
			return nil, invalid(path, "unexpected enum value", err)
		}
		return str, nil
	case KindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, invalid(path, "expected array", nil)
		}
		if s.Length > 0 && len(items) != s.Length {
			return nil, invalid(path, fmt.Sprintf("expected %d items, got %d", s.Length, len(items)), nil)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := c.decode(s.Items, item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindObject:
		return c.decodeObject(s, raw, path)
	case KindOneOf:
		var first error
		for _, variant := range s.Variants {
			v, err := c.decode(variant, raw, path)
			if err == nil {
				return v, nil
			}
			if first == nil {
				first = err
			}
		}
		return nil, invalid(path, "no variant matches", first)
	}
	return nil, invalid(path, fmt.Sprintf("unknown kind %q", s.Kind), nil)
}

func (c *Catalog) decodeObject(s *Spec, raw json.RawMessage, path string) (*Object, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, invalid(path, "expected object", nil)
	}

	obj := NewObject()
	for _, f := range s.Fields {
		fraw, ok := members[f.Name]
		delete(members, f.Name)
		if !ok || bytes.Equal(bytes.TrimSpace(fraw), null) {
			if f.Required && !f.Nullable {
				return nil, invalid(path+"."+f.Name, "missing required field", nil)
			}
			continue
		}
		v, err := c.decode(&f.Spec, fraw, path+"."+f.Name)
		if err != nil {
			return nil, err
		}
		obj.Fields[f.Name] = v
	}

	if len(members) > 0 {
		if !s.Open {
			for k := range members {
				return nil, invalid(path+"."+k, "unknown field", nil)
			}
		}
		obj.Extra = members
	}
	return obj, nil
}

func decodeString(raw json.RawMessage, path string) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return "", invalid(path, "expected string", nil)
	}
	return str, nil
}

func isNil(v any) bool {
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
