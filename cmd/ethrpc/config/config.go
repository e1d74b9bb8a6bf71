package config

import (
	"time"

	"github.com/blocknative/ethrpc/client"
)

// Config holds the settings of the ethrpc command. Every key may come from
// the config file and be overridden by the flag of the same name.
type Config struct {
	Endpoint    string   `toml:"endpoint"`
	Schema      string   `toml:"schema"`
	Timeout     Duration `toml:"timeout"`
	Rate        float64  `toml:"rate"`
	Burst       int      `toml:"burst"`
	LogLevel    string   `toml:"loglvl"`
	LogFormat   string   `toml:"logfmt"`
	MetricsAddr string   `toml:"metrics-addr"`
}

// Duration reads "30s" style values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func defaultConfig() *Config {
	return &Config{
		Timeout:   Duration{client.DefaultTimeout},
		Burst:     1,
		LogLevel:  "info",
		LogFormat: "text",
	}
}
