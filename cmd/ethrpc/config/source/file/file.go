package file

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/blocknative/ethrpc/cmd/ethrpc/config"
)

type Source struct {
	filepath string
}

func NewSource(filepath string) (s *Source) {
	return &Source{
		filepath: filepath,
	}
}

// Load applies the keys present in the TOML file to c, leaving the others
// untouched.
func (s *Source) Load(c *config.Config) error {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	if err := toml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse %s", s.filepath)
	}
	return nil
}
