// Package schema holds the API description a client is built from: methods,
// their parameter and result shapes, named structures and error mappings.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/blocknative/ethrpc/jsonrpc"
)

var ErrMethodNotFound = errors.New("method not found in catalog")

// SchemaError reports a malformed catalog. It is fatal at load time.
type SchemaError struct {
	Method string
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Method != "" && e.Path != "":
		return fmt.Sprintf("schema: method %s: %s: %s", e.Method, e.Path, e.Reason)
	case e.Method != "":
		return fmt.Sprintf("schema: method %s: %s", e.Method, e.Reason)
	case e.Path != "":
		return fmt.Sprintf("schema: %s: %s", e.Path, e.Reason)
	}
	return "schema: " + e.Reason
}

type ErrorMapping struct {
	Code   int64             `yaml:"code"`
	Method string            `yaml:"method,omitempty"`
	Kind   jsonrpc.ErrorKind `yaml:"kind"`
}

// StandardErrors maps the reserved JSON-RPC 2.0 codes.
var StandardErrors = []ErrorMapping{
	{Code: jsonrpc.CodeParse, Kind: jsonrpc.ErrParse},
	{Code: jsonrpc.CodeInvalidRequest, Kind: jsonrpc.ErrInvalidRequest},
	{Code: jsonrpc.CodeMethodNotFound, Kind: jsonrpc.ErrMethodNotFound},
	{Code: jsonrpc.CodeInvalidParams, Kind: jsonrpc.ErrInvalidParams},
	{Code: jsonrpc.CodeInternal, Kind: jsonrpc.ErrInternal},
}

type mappingKey struct {
	method string
	code   int64
}

// Catalog is immutable once loaded and safe for concurrent use.
type Catalog struct {
	methods    map[string]*Method
	structures map[string]*Spec
	mappings   map[mappingKey]jsonrpc.ErrorKind
}

func Load(methods []Method, structures map[string]*Spec, mappings []ErrorMapping) (*Catalog, error) {
	c := &Catalog{
		methods:    make(map[string]*Method, len(methods)),
		structures: make(map[string]*Spec, len(structures)),
		mappings:   make(map[mappingKey]jsonrpc.ErrorKind, len(mappings)),
	}
	for name, s := range structures {
		if s == nil {
			return nil, &SchemaError{Path: name, Reason: "empty structure"}
		}
		c.structures[name] = s
	}

	for name, s := range c.structures {
		if err := c.check(s, name); err != nil {
			return nil, err
		}
	}
	if err := c.checkCycles(); err != nil {
		return nil, err
	}

	for i := range methods {
		m := methods[i]
		if err := c.checkMethod(&m); err != nil {
			return nil, err
		}
		if _, ok := c.methods[m.Name]; ok {
			return nil, &SchemaError{Method: m.Name, Reason: "duplicate method name"}
		}
		c.methods[m.Name] = &m
	}

	for _, em := range mappings {
		if em.Kind == "" {
			return nil, &SchemaError{Method: em.Method, Reason: fmt.Sprintf("error mapping for code %d has no kind", em.Code)}
		}
		if em.Method != "" {
			if _, ok := c.methods[em.Method]; !ok {
				return nil, &SchemaError{Method: em.Method, Reason: fmt.Sprintf("error mapping for code %d names an unknown method", em.Code)}
			}
		}
		c.mappings[mappingKey{method: em.Method, code: em.Code}] = em.Kind
	}

	return c, nil
}

func (c *Catalog) checkMethod(m *Method) error {
	if m.Name == "" {
		return &SchemaError{Reason: "method without a name"}
	}

	seen := make(map[string]struct{}, len(m.Params))
	optional := false
	for i := range m.Params {
		p := &m.Params[i]
		if p.Name == "" {
			return &SchemaError{Method: m.Name, Path: fmt.Sprintf("params[%d]", i), Reason: "parameter without a name"}
		}
		if _, ok := seen[p.Name]; ok {
			return &SchemaError{Method: m.Name, Path: p.Name, Reason: "duplicate parameter name"}
		}
		seen[p.Name] = struct{}{}

		if !p.Required {
			optional = true
		} else if optional {
			return &SchemaError{Method: m.Name, Path: p.Name, Reason: "required parameter follows an optional one"}
		}
		if err := c.check(&p.Spec, m.Name+"."+p.Name); err != nil {
			return err
		}
	}

	if fr := m.FlagResult; fr != nil {
		if fr.WhenTrue == nil || fr.WhenFalse == nil {
			return &SchemaError{Method: m.Name, Path: "resultByFlag", Reason: "both result shapes are required"}
		}
		p := m.param(fr.Param)
		if p == nil {
			return &SchemaError{Method: m.Name, Path: "resultByFlag", Reason: fmt.Sprintf("unknown parameter %q", fr.Param)}
		}
		if p.Kind != KindBoolean {
			return &SchemaError{Method: m.Name, Path: "resultByFlag", Reason: fmt.Sprintf("parameter %q is not boolean", fr.Param)}
		}
		if err := c.check(fr.WhenTrue, m.Name+".whenTrue"); err != nil {
			return err
		}
		if err := c.check(fr.WhenFalse, m.Name+".whenFalse"); err != nil {
			return err
		}
		if m.Result == nil {
			m.Result = OneOf(fr.WhenTrue, fr.WhenFalse)
		}
	}

	if m.Result == nil {
		return &SchemaError{Method: m.Name, Reason: "missing result"}
	}
	return c.check(m.Result, m.Name+".result")
}

func (m *Method) param(name string) *Param {
	for i := range m.Params {
		if m.Params[i].Name == name {
			return &m.Params[i]
		}
	}
	return nil
}

func (c *Catalog) check(s *Spec, path string) error {
	if s.Ref != "" {
		if _, ok := c.structures[s.Ref]; !ok {
			return &SchemaError{Path: path, Reason: fmt.Sprintf("undefined reference %q", s.Ref)}
		}
		return nil
	}
	if !s.Kind.valid() {
		return &SchemaError{Path: path, Reason: fmt.Sprintf("unknown kind %q", s.Kind)}
	}

	switch s.Kind {
	case KindEnum:
		if len(s.Values) == 0 {
			return &SchemaError{Path: path, Reason: "enum without values"}
		}
	case KindArray:
		if s.Items == nil {
			return &SchemaError{Path: path, Reason: "array without items"}
		}
		return c.check(s.Items, path+"[]")
	case KindOneOf:
		if len(s.Variants) == 0 {
			return &SchemaError{Path: path, Reason: "oneOf without variants"}
		}
		for i, v := range s.Variants {
			if v == nil {
				return &SchemaError{Path: fmt.Sprintf("%s|%d", path, i), Reason: "empty variant"}
			}
			if err := c.check(v, fmt.Sprintf("%s|%d", path, i)); err != nil {
				return err
			}
		}
	case KindObject:
		for i := range s.Fields {
			if s.Fields[i].Name == "" {
				return &SchemaError{Path: path, Reason: "field without a name"}
			}
			if err := c.check(&s.Fields[i].Spec, path+"."+s.Fields[i].Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkCycles rejects structures that lead back to themselves through
// references and oneOf variants alone. Recursion through an object field or
// an array item is fine.
func (c *Catalog) checkCycles() error {
	done := make(map[string]bool, len(c.structures))

	var visit func(s *Spec, path []string) error
	visit = func(s *Spec, path []string) error {
		if s.Ref != "" {
			if slices.Contains(path, s.Ref) {
				return &SchemaError{
					Path:   strings.Join(append(path[:len(path):len(path)], s.Ref), " -> "),
					Reason: "reference cycle",
				}
			}
			if done[s.Ref] {
				return nil
			}
			if err := visit(c.structures[s.Ref], append(path[:len(path):len(path)], s.Ref)); err != nil {
				return err
			}
			done[s.Ref] = true
			return nil
		}
		if s.Kind == KindOneOf {
			for _, v := range s.Variants {
				if err := visit(v, path); err != nil {
					return err
				}
			}
		}
		return nil
	}

	names := maps.Keys(c.structures)
	slices.Sort(names)
	for _, name := range names {
		if err := visit(Ref(name), nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) Lookup(name string) (*Method, error) {
	m, ok := c.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return m, nil
}

func (c *Catalog) Methods() []string {
	names := maps.Keys(c.methods)
	slices.Sort(names)
	return names
}

func (c *Catalog) Structure(name string) (*Spec, bool) {
	s, ok := c.structures[name]
	return s, ok
}

// ErrorKind resolves a server error code. Method-specific mappings take
// precedence over global ones.
func (c *Catalog) ErrorKind(method string, code int64) (jsonrpc.ErrorKind, bool) {
	if k, ok := c.mappings[mappingKey{method: method, code: code}]; ok {
		return k, true
	}
	k, ok := c.mappings[mappingKey{code: code}]
	return k, ok
}

const maxRefDepth = 32

func (c *Catalog) resolve(s *Spec) (*Spec, error) {
	nullable := s.Nullable
	for depth := 0; s.Ref != ""; depth++ {
		if depth == maxRefDepth {
			return nil, &SchemaError{Path: s.Ref, Reason: "reference cycle"}
		}
		t, ok := c.structures[s.Ref]
		if !ok {
			return nil, &SchemaError{Path: s.Ref, Reason: "undefined reference"}
		}
		s = t
		nullable = nullable || s.Nullable
	}
	if nullable && !s.Nullable {
		s = Nullable(s)
	}
	return s, nil
}
