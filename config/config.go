// Package config loads bundlectl and Client configuration.
//
// Configuration comes from a single YAML file given by the --config flag or
// the BUNDLE_CONFIG environment variable. Values in the file are merged over
// Default, and ${VAR} references in path fields are expanded from the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that holds the config file path.
const EnvVar = "BUNDLE_CONFIG"

// Transport kinds.
const (
	TransportHTTP = "http"
	TransportOCI  = "oci"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Transport TransportConfig `yaml:"transport"`
	Install   InstallConfig   `yaml:"install"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig configures the on-disk backend.
type StorageConfig struct {
	// Dir is the directory bundles are installed under.
	Dir string `yaml:"dir"`

	// ShardPrefixLen is the number of hex characters used to shard the
	// default layout. Zero disables sharding.
	ShardPrefixLen int `yaml:"shardPrefixLen"`
}

// CatalogConfig locates the catalog.
type CatalogConfig struct {
	// Path is a local YAML or JSON catalog file.
	Path string `yaml:"path"`

	// Reference is a tag or digest in transport.repository holding the
	// catalog manifest. Only used by the oci transport; Path wins when both
	// are set.
	Reference string `yaml:"reference"`
}

// TransportConfig selects and tunes the fetch transport.
type TransportConfig struct {
	// Kind is "http" or "oci".
	Kind string `yaml:"kind"`

	// BaseURL is the root that relative remote paths resolve against (http).
	BaseURL string `yaml:"baseURL"`

	// Headers are sent with every request (http).
	Headers map[string]string `yaml:"headers"`

	// Repository is the registry repository, e.g. ghcr.io/acme/bundles (oci).
	Repository string `yaml:"repository"`

	// PlainHTTP talks to the registry without TLS (oci).
	PlainHTTP bool `yaml:"plainHTTP"`

	// Anonymous skips the Docker credential store (oci).
	Anonymous bool `yaml:"anonymous"`

	// Timeout bounds the wait for a response to start.
	Timeout time.Duration `yaml:"timeout"`

	// NotifyInterval throttles download progress.
	NotifyInterval time.Duration `yaml:"notifyInterval"`

	// ChunkSize is the streaming buffer size in bytes.
	ChunkSize int `yaml:"chunkSize"`
}

// InstallConfig tunes the install pipeline.
type InstallConfig struct {
	MaxRetries  int           `yaml:"maxRetries"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	Concurrency int           `yaml:"concurrency"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for fields the file leaves unset.
func Default() *Config {
	root := "${HOME}/.cache/bundle"
	if dir, err := os.UserCacheDir(); err == nil {
		root = filepath.Join(dir, "bundle")
	}
	return &Config{
		Storage: StorageConfig{
			Dir:            root,
			ShardPrefixLen: 2,
		},
		Transport: TransportConfig{
			Kind:           TransportHTTP,
			Timeout:        30 * time.Second,
			NotifyInterval: 500 * time.Millisecond,
			ChunkSize:      32 << 10,
		},
		Install: InstallConfig{
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
			Concurrency: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Load reads the file at path over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	// A relative catalog path is relative to the config file.
	if cfg.Catalog.Path != "" && !filepath.IsAbs(cfg.Catalog.Path) {
		cfg.Catalog.Path = filepath.Join(filepath.Dir(path), cfg.Catalog.Path)
	}
	return cfg, nil
}

// FromEnv loads the file named by BUNDLE_CONFIG. It fails when the
// variable is unset.
func FromEnv() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("config: %s is not set; set it or pass --config", EnvVar)
	}
	return Load(path)
}

// Decode parses YAML from r over Default. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.expand()
	return cfg, nil
}

// expand substitutes ${VAR} references in path fields.
func (c *Config) expand() {
	c.Storage.Dir = os.ExpandEnv(c.Storage.Dir)
	c.Catalog.Path = os.ExpandEnv(c.Catalog.Path)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Storage.Dir == "" {
		add("storage.dir is required")
	}
	if c.Storage.ShardPrefixLen < 0 {
		add("storage.shardPrefixLen must be >= 0")
	}

	switch c.Transport.Kind {
	case TransportHTTP:
		if c.Transport.BaseURL == "" {
			add("transport.baseURL is required for http")
		} else if u, err := url.Parse(c.Transport.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			add("transport.baseURL %q must be an http or https URL", c.Transport.BaseURL)
		}
		if c.Catalog.Path == "" {
			add("catalog.path is required for http")
		}
	case TransportOCI:
		if c.Transport.Repository == "" {
			add("transport.repository is required for oci")
		}
		if c.Catalog.Path == "" && c.Catalog.Reference == "" {
			add("catalog.path or catalog.reference is required for oci")
		}
	default:
		add("transport.kind %q is not one of http, oci", c.Transport.Kind)
	}
	if c.Transport.Timeout < 0 {
		add("transport.timeout must be >= 0")
	}
	if c.Transport.ChunkSize < 0 {
		add("transport.chunkSize must be >= 0")
	}

	if c.Install.MaxRetries < 0 {
		add("install.maxRetries must be >= 0")
	}
	if c.Install.BackoffBase < 0 {
		add("install.backoffBase must be >= 0")
	}
	if c.Install.Concurrency < 1 {
		add("install.concurrency must be >= 1")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != LogFormatText && c.Log.Format != LogFormatJSON {
		add("log.format %q is not one of text, json", c.Log.Format)
	}
	return errs
}

// ParseLevel parses a slog level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, err
	}
	return level, nil
}

// NewLogger builds a logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case LogFormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("config: log.format %q is not one of text, json", c.Format)
	}
}
