package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	cfg, err := Decode(strings.NewReader(`
storage:
  dir: /var/lib/bundles
  shardPrefixLen: 0
catalog:
  reference: v3
transport:
  kind: oci
  repository: localhost:5000/bundles
  plainHTTP: true
  timeout: 5s
  notifyInterval: 100ms
install:
  maxRetries: 5
  backoffBase: 250ms
log:
  level: debug
  format: json
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/bundles", cfg.Storage.Dir)
	assert.Zero(t, cfg.Storage.ShardPrefixLen)
	assert.Equal(t, TransportOCI, cfg.Transport.Kind)
	assert.True(t, cfg.Transport.PlainHTTP)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Transport.NotifyInterval)
	assert.Equal(t, 32<<10, cfg.Transport.ChunkSize, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Install.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Install.BackoffBase)
	assert.Equal(t, 4, cfg.Install.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Install, cfg.Install)
}

func TestDecodeUnknownField(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("install:\n  maxRetry: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxRetry")
}

func TestLoad(t *testing.T) {
	t.Setenv("BUNDLE_TEST_ROOT", "/srv")

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  dir: ${BUNDLE_TEST_ROOT}/bundles
catalog:
  path: catalog.yaml
transport:
  baseURL: https://cdn.example.com/bundles
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/srv/bundles", cfg.Storage.Dir)
	assert.Equal(t, filepath.Join(dir, "catalog.yaml"), cfg.Catalog.Path)
	assert.Equal(t, TransportHTTP, cfg.Transport.Kind)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	_, err := FromEnv()
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	t.Setenv(EnvVar, path)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.Transport.BaseURL = "https://cdn.example.com"
		cfg.Catalog.Path = "/etc/bundle/catalog.yaml"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:   "unknown kind",
			mutate: func(c *Config) { c.Transport.Kind = "ftp" },
			want:   []string{`transport.kind "ftp"`},
		},
		{
			name:   "bad base url",
			mutate: func(c *Config) { c.Transport.BaseURL = "file:///tmp" },
			want:   []string{"transport.baseURL"},
		},
		{
			name: "oci without repository or catalog",
			mutate: func(c *Config) {
				c.Transport.Kind = TransportOCI
				c.Catalog.Path = ""
			},
			want: []string{"transport.repository", "catalog.path or catalog.reference"},
		},
		{
			name: "several bad fields",
			mutate: func(c *Config) {
				c.Storage.Dir = ""
				c.Install.Concurrency = 0
				c.Install.MaxRetries = -1
				c.Log.Level = "loud"
				c.Log.Format = "xml"
			},
			want: []string{"storage.dir", "install.concurrency", "install.maxRetries", "log.level", "log.format"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: LogFormatJSON}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "bundle", "core")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"bundle":"core"`)

	_, err = LogConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	require.Error(t, err)

	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
