/*
Package config loads the DWN storage core's process configuration from
YAML via gopkg.in/yaml.v3.
*/
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dwn-core/dwn/pkg/dwnerr"
)

// Config is the top-level process configuration.
type Config struct {
	// BlobstoreRoot is the directory BlobStore's kv.Store file lives under.
	BlobstoreRoot string `yaml:"blobstore_root"`
	// IndexstoreRoot is the directory MessageStore's kv.Store file lives
	// under (message bytes and secondary indexes share this handle).
	IndexstoreRoot string `yaml:"indexstore_root"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// MetricsAddr is loaded and kept on the Config, but nothing in this
	// module (library or cmd/dwn) binds a listener to it or serves
	// metrics.Handler.
	MetricsAddr string `yaml:"metrics_addr"`

	// QueryDefaultLimit bounds query page size when a caller passes no
	// explicit limit; zero means unlimited.
	QueryDefaultLimit int `yaml:"query_default_limit"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		BlobstoreRoot:     "./data/blobs",
		IndexstoreRoot:    "./data/messages",
		LogLevel:          "info",
		LogJSON:           false,
		MetricsAddr:       "",
		QueryDefaultLimit: 0,
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so an incomplete file still yields sane values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, dwnerr.Wrap("config.Load", dwnerr.IO, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, dwnerr.Wrap("config.Load", dwnerr.IO, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BlobstoreRoot == "" {
		return dwnerr.Wrap("config.validate", dwnerr.IO, errors.New("blobstore_root is required"))
	}
	if c.IndexstoreRoot == "" {
		return dwnerr.Wrap("config.validate", dwnerr.IO, errors.New("indexstore_root is required"))
	}
	if c.QueryDefaultLimit < 0 {
		return dwnerr.Wrap("config.validate", dwnerr.IO, errors.New("query_default_limit must not be negative"))
	}
	return nil
}
