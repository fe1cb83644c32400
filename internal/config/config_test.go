package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
data_dir: /srv/harvest
logging:
  development: false
  level: info
http:
  timeout_seconds: 30
  cache_dir: /srv/cache
  requests_per_second: 0.5
  respect_robots: true
ledger:
  backend: sqlite
  sqlite_path: /srv/harvest/ledger.db
sources:
  abo:
    project: ABO
    item_ids: ["+Z123", "+Z456"]
    resource_format: text/html
  anno:
    titles:
      sam:
        min: 18090101
        max: 18091231
      vlb:
        min: 18140101
  bsb:
    title_ids: ["bsb00000001"]
convert:
  batch_size: 32
  workers: 2
  max_drop_ratio: 0.1
sink:
  api_key: secret
  batch_size: 100
  wait_for_healthy: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/harvest", cfg.DataDir)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout())
	assert.Equal(t, "/srv/cache", cfg.HTTP.CacheDir)
	assert.True(t, cfg.HTTP.RespectRobots)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, []string{"+Z123", "+Z456"}, cfg.Sources.ABO.ItemIDs)
	assert.Equal(t, "text/html", cfg.Sources.ABO.ResourceFormat)
	assert.Equal(t, DateRange{Min: 18090101, Max: 18091231}, cfg.Sources.ANNO.Titles["sam"])
	assert.Equal(t, DateRange{Min: 18140101}, cfg.Sources.ANNO.Titles["vlb"])
	assert.Equal(t, "Vaterländische Blätter", cfg.Sources.ANNO.TitleNames["vlb"])
	assert.Equal(t, []string{"bsb00000001"}, cfg.Sources.BSB.TitleIDs)
	assert.Equal(t, 32, cfg.Convert.BatchSize)
	assert.Equal(t, 2, cfg.Convert.Workers)
	assert.InDelta(t, 0.1, cfg.Convert.MaxDropRatio, 1e-9)
	assert.Equal(t, "secret", cfg.Sink.APIKey)
	assert.Equal(t, 100, cfg.Sink.BatchSize)
	assert.True(t, cfg.Sink.WaitForHealthy)
	assert.Equal(t, 2*time.Minute, cfg.Sink.HealthTimeout())
	require.NoError(t, cfg.ValidateSink())
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "sidecar", cfg.Ledger.Backend)
	assert.Equal(t, 64, cfg.Convert.BatchSize)
	assert.Equal(t, 4, cfg.Convert.Workers)
	assert.Equal(t, "documents", cfg.Sink.Collection)
	assert.Equal(t, 256, cfg.Sink.BatchSize)
	assert.Equal(t, "https://anno.onb.ac.at", cfg.Sources.ANNO.BaseURL)
	assert.Equal(t, "text/plain", cfg.Sources.ABO.ResourceFormat)
	assert.False(t, cfg.HTTP.RespectRobots)
}

func TestLoadReadsTypesenseEnvironment(t *testing.T) {
	t.Setenv("TYPESENSE_API_KEY", "from-env")
	t.Setenv("TYPESENSE_PORT", "443")
	t.Setenv("HARVEST_SINK_PROTOCOL", "https")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Sink.APIKey)
	assert.Equal(t, 443, cfg.Sink.Port)
	assert.Equal(t, "https", cfg.Sink.Protocol)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		DataDir: "data",
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Ledger:  LedgerConfig{Backend: "sidecar"},
		Convert: ConvertConfig{BatchSize: 64, Workers: 4},
		Sink:    SinkConfig{BatchSize: 256},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "data dir", mutate: func(c *Config) { c.DataDir = " " }, want: "data_dir"},
		{name: "timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "batch size", mutate: func(c *Config) { c.Convert.BatchSize = 0 }, want: "convert.batch_size"},
		{name: "workers", mutate: func(c *Config) { c.Convert.Workers = -1 }, want: "convert.workers"},
		{name: "drop ratio", mutate: func(c *Config) { c.Convert.MaxDropRatio = 1.5 }, want: "convert.max_drop_ratio"},
		{name: "sink batch", mutate: func(c *Config) { c.Sink.BatchSize = 0 }, want: "sink.batch_size"},
		{name: "ledger backend", mutate: func(c *Config) { c.Ledger.Backend = "redis" }, want: "ledger.backend"},
		{name: "sqlite path", mutate: func(c *Config) { c.Ledger.Backend = "sqlite" }, want: "ledger.sqlite_path"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Ledger.Backend = "postgres" }, want: "ledger.postgres_dsn"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Output.Backend = "gcs" }, want: "output.gcs_bucket"},
		{name: "nats url", mutate: func(c *Config) { c.Notify.Backend = "nats" }, want: "notify.nats_url"},
		{
			name: "anno range",
			mutate: func(c *Config) {
				c.Sources.ANNO.Titles = map[string]DateRange{"sam": {Min: 18100101, Max: 18090101}}
			},
			want: "sources.anno.titles.sam",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateSink(t *testing.T) {
	t.Parallel()

	ok := SinkConfig{Host: "localhost", Port: 8108, Protocol: "http", APIKey: "k", Collection: "documents"}
	require.NoError(t, Config{Sink: ok}.ValidateSink())

	missingKey := ok
	missingKey.APIKey = ""
	require.ErrorContains(t, Config{Sink: missingKey}.ValidateSink(), "sink.api_key")

	badProtocol := ok
	badProtocol.Protocol = "ftp"
	require.ErrorContains(t, Config{Sink: badProtocol}.ValidateSink(), "sink.protocol")

	noTimeout := ok
	noTimeout.WaitForHealthy = true
	require.ErrorContains(t, Config{Sink: noTimeout}.ValidateSink(), "sink.health_timeout_seconds")
}
