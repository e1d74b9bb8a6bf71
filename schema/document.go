package schema

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a catalog. JSON documents parse as well,
// being valid YAML.
type Document struct {
	Structures map[string]*Spec `yaml:"structures"`
	Methods    []Method         `yaml:"methods"`
	Errors     []ErrorMapping   `yaml:"errors"`
}

func ParseDocument(r io.Reader) (*Catalog, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parse schema document")
	}
	return Load(doc.Methods, doc.Structures, doc.Errors)
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "open schema document")
	}
	defer f.Close()

	c, err := ParseDocument(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "load %s", path)
	}
	return c, nil
}
