package schema

import (
	"bytes"
	"encoding/json"

	"github.com/blocknative/ethrpc/scalar"
)

type Kind string

const (
	KindQuantity Kind = "quantity"
	KindBytes    Kind = "bytes"
	KindBoolean  Kind = "boolean"
	KindString   Kind = "string"
	KindEnum     Kind = "enum"
	KindAny      Kind = "any"
	KindObject   Kind = "object"
	KindArray    Kind = "array"
	KindOneOf    Kind = "oneOf"
)

func (k Kind) valid() bool {
	switch k {
	case KindQuantity, KindBytes, KindBoolean, KindString, KindEnum, KindAny, KindObject, KindArray, KindOneOf:
		return true
	}
	return false
}

// Spec describes the shape of one value. A Spec with Ref set stands for the
// named structure of the catalog it was loaded into.
type Spec struct {
	Kind     Kind     `yaml:"kind,omitempty"`
	Ref      string   `yaml:"ref,omitempty"`
	Nullable bool     `yaml:"nullable,omitempty"`
	Bits     int      `yaml:"bits,omitempty"`
	Size     int      `yaml:"size,omitempty"`
	Values   []string `yaml:"values,omitempty"`
	Items    *Spec    `yaml:"items,omitempty"`
	Length   int      `yaml:"length,omitempty"`
	Fields   []Field  `yaml:"fields,omitempty"`
	Open     bool     `yaml:"open,omitempty"`
	Variants []*Spec  `yaml:"variants,omitempty"`
}

type Field struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required,omitempty"`
	Spec     `yaml:",inline"`
}

type Param = Field

// FlagResult selects the result shape from a boolean argument, as for
// methods that return either full objects or their hashes.
type FlagResult struct {
	Param     string `yaml:"param"`
	WhenTrue  *Spec  `yaml:"whenTrue"`
	WhenFalse *Spec  `yaml:"whenFalse"`
}

type Method struct {
	Name       string      `yaml:"name"`
	Summary    string      `yaml:"summary,omitempty"`
	Params     []Param     `yaml:"params,omitempty"`
	Result     *Spec       `yaml:"result,omitempty"`
	FlagResult *FlagResult `yaml:"resultByFlag,omitempty"`
	Cacheable  bool        `yaml:"cacheable,omitempty"`
}

// Required returns how many leading parameters must be supplied.
func (m *Method) Required() int {
	n := 0
	for _, p := range m.Params {
		if !p.Required {
			break
		}
		n++
	}
	return n
}

// ResultFor picks the result spec for a concrete argument list, native or
// already encoded. A flag that is absent counts as false.
func (m *Method) ResultFor(args []any) *Spec {
	if m.FlagResult == nil {
		return m.Result
	}
	for i, p := range m.Params {
		if p.Name != m.FlagResult.Param {
			continue
		}
		if i < len(args) && flagSet(args[i]) {
			return m.FlagResult.WhenTrue
		}
		break
	}
	return m.FlagResult.WhenFalse
}

func flagSet(v any) bool {
	if raw, ok := v.(json.RawMessage); ok {
		return bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
	}
	b, err := scalar.EncodeBool(v)
	return err == nil && b
}

func Quantity(bits int) *Spec { return &Spec{Kind: KindQuantity, Bits: bits} }
func Bytes(size int) *Spec    { return &Spec{Kind: KindBytes, Size: size} }
func Boolean() *Spec          { return &Spec{Kind: KindBoolean} }
func String() *Spec           { return &Spec{Kind: KindString} }
func Any() *Spec              { return &Spec{Kind: KindAny} }
func Ref(name string) *Spec   { return &Spec{Ref: name} }

func Enum(values ...string) *Spec {
	return &Spec{Kind: KindEnum, Values: values}
}

func ArrayOf(items *Spec) *Spec {
	return &Spec{Kind: KindArray, Items: items}
}

func OneOf(variants ...*Spec) *Spec {
	return &Spec{Kind: KindOneOf, Variants: variants}
}

func Nullable(s *Spec) *Spec {
	cp := *s
	cp.Nullable = true
	return &cp
}
