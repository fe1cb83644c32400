// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Logging LoggingConfig `mapstructure:"logging"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Sources SourcesConfig `mapstructure:"sources"`
	HOCR    HOCRConfig    `mapstructure:"hocr"`
	Convert ConvertConfig `mapstructure:"convert"`
	Output  OutputConfig  `mapstructure:"output"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig controls the archive HTTP client.
type HTTPConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	CacheDir          string  `mapstructure:"cache_dir"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// LedgerConfig selects where fetch state is recorded.
type LedgerConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
}

// SourcesConfig lists what to harvest from each archive.
type SourcesConfig struct {
	ABO  ABOSource  `mapstructure:"abo"`
	MDZ  MDZSource  `mapstructure:"mdz"`
	ANNO ANNOSource `mapstructure:"anno"`
	BSB  BSBSource  `mapstructure:"bsb"`
}

// ABOSource configures the ONB IIIF archive.
type ABOSource struct {
	BaseURL string   `mapstructure:"base_url"`
	Project string   `mapstructure:"project"`
	ItemIDs []string `mapstructure:"item_ids"`
	// ResourceFormat is the MIME type of the canvas resources to download. Anything other than
	// text/plain is stored as html.
	ResourceFormat string `mapstructure:"resource_format"`
}

// MDZSource configures the MDZ IIIF archive.
type MDZSource struct {
	BaseURL string   `mapstructure:"base_url"`
	ItemIDs []string `mapstructure:"item_ids"`
}

// DateRange bounds a dated title inclusively. A zero bound is open.
type DateRange struct {
	Min int64 `mapstructure:"min"`
	Max int64 `mapstructure:"max"`
}

// ANNOSource configures the ANNO newspaper archive.
type ANNOSource struct {
	BaseURL         string               `mapstructure:"base_url"`
	Titles          map[string]DateRange `mapstructure:"titles"`
	TitleNames      map[string]string    `mapstructure:"title_names"`
	SkipFailedPages bool                 `mapstructure:"skip_failed_pages"`
}

// BSBSource configures the digipress calendar enumeration.
type BSBSource struct {
	BaseURL         string   `mapstructure:"base_url"`
	TitleIDs        []string `mapstructure:"title_ids"`
	SkipFailedPages bool     `mapstructure:"skip_failed_pages"`
}

// HOCRConfig selects the hOCR-to-text converter. An empty command uses the built-in one.
type HOCRConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// ConvertConfig governs batch conversion.
type ConvertConfig struct {
	Output       string  `mapstructure:"output"`
	BatchSize    int     `mapstructure:"batch_size"`
	Workers      int     `mapstructure:"workers"`
	MaxDropRatio float64 `mapstructure:"max_drop_ratio"`
}

// OutputConfig controls where the finished NDJSON file is copied.
type OutputConfig struct {
	Backend    string `mapstructure:"backend"`
	LocalDir   string `mapstructure:"local_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	ObjectName string `mapstructure:"object_name"`
}

// NotifyConfig controls run summary notifications.
type NotifyConfig struct {
	Backend       string `mapstructure:"backend"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
	NATSURL       string `mapstructure:"nats_url"`
	NATSSubject   string `mapstructure:"nats_subject"`
}

// SinkConfig holds the search sink connection and import settings.
type SinkConfig struct {
	Host                     string `mapstructure:"host"`
	Port                     int    `mapstructure:"port"`
	Protocol                 string `mapstructure:"protocol"`
	Path                     string `mapstructure:"path"`
	APIKey                   string `mapstructure:"api_key"`
	Collection               string `mapstructure:"collection"`
	BatchSize                int    `mapstructure:"batch_size"`
	WaitForHealthy           bool   `mapstructure:"wait_for_healthy"`
	HealthTimeoutSeconds     int    `mapstructure:"health_timeout_seconds"`
	HealthInitialMs          int    `mapstructure:"health_initial_ms"`
	HealthMaxMs              int    `mapstructure:"health_max_ms"`
	ConnectionTimeoutSeconds int    `mapstructure:"connection_timeout_seconds"`
}

// MetricsConfig sets the listen address of the metrics endpoint. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindSinkEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.user_agent", "tgv-harvester/0.1")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.cache_dir", "")
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("ledger.backend", "sidecar")
	v.SetDefault("ledger.sqlite_path", "")
	v.SetDefault("ledger.postgres_dsn", "")
	v.SetDefault("ledger.table", "fetch_ledger")
	v.SetDefault("sources.abo.base_url", "https://iiif.onb.ac.at")
	v.SetDefault("sources.abo.project", "ABO")
	v.SetDefault("sources.abo.item_ids", []string{})
	v.SetDefault("sources.abo.resource_format", "text/plain")
	v.SetDefault("sources.mdz.base_url", "https://api.digitale-sammlungen.de")
	v.SetDefault("sources.mdz.item_ids", []string{})
	v.SetDefault("sources.anno.base_url", "https://anno.onb.ac.at")
	v.SetDefault("sources.anno.title_names", map[string]string{
		"sam": "Der Sammler. Ein Unterhaltungsblatt",
		"vlb": "Vaterländische Blätter",
	})
	v.SetDefault("sources.anno.skip_failed_pages", false)
	v.SetDefault("sources.bsb.base_url", "https://digipress.digitale-sammlungen.de")
	v.SetDefault("sources.bsb.title_ids", []string{})
	v.SetDefault("sources.bsb.skip_failed_pages", false)
	v.SetDefault("hocr.command", "")
	v.SetDefault("convert.output", "all.jsonl")
	v.SetDefault("convert.batch_size", 64)
	v.SetDefault("convert.workers", 4)
	v.SetDefault("convert.max_drop_ratio", 0.0)
	v.SetDefault("output.backend", "none")
	v.SetDefault("output.local_dir", "")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.object_name", "")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.nats_subject", "harvester.runs")
	v.SetDefault("sink.host", "localhost")
	v.SetDefault("sink.port", 8108)
	v.SetDefault("sink.protocol", "http")
	v.SetDefault("sink.path", "")
	v.SetDefault("sink.api_key", "")
	v.SetDefault("sink.collection", "documents")
	v.SetDefault("sink.batch_size", 256)
	v.SetDefault("sink.wait_for_healthy", false)
	v.SetDefault("sink.health_timeout_seconds", 120)
	v.SetDefault("sink.health_initial_ms", 500)
	v.SetDefault("sink.health_max_ms", 8000)
	v.SetDefault("sink.connection_timeout_seconds", 30)
	v.SetDefault("metrics.addr", "")
}

// bindSinkEnv also accepts the variable names the Typesense tooling uses.
func bindSinkEnv(v *viper.Viper) error {
	for key, aliases := range map[string][]string{
		"sink.api_key":  {"TYPESENSE_API_KEY"},
		"sink.host":     {"TYPESENSE_HOST", "TYPESENSE_FETCHER_HOST"},
		"sink.port":     {"TYPESENSE_PORT"},
		"sink.protocol": {"TYPESENSE_PROTOCOL"},
		"sink.path":     {"TYPESENSE_PATH"},
	} {
		envKey := "HARVEST_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envKey}, aliases...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Convert.BatchSize <= 0 {
		return fmt.Errorf("convert.batch_size must be > 0")
	}
	if c.Convert.Workers <= 0 {
		return fmt.Errorf("convert.workers must be > 0")
	}
	if c.Convert.MaxDropRatio < 0 || c.Convert.MaxDropRatio > 1 {
		return fmt.Errorf("convert.max_drop_ratio must be within [0,1]")
	}
	if c.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be > 0")
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	if err := c.Output.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	for title, r := range c.Sources.ANNO.Titles {
		if r.Min > 0 && r.Max > 0 && r.Min > r.Max {
			return fmt.Errorf("sources.anno.titles.%s: min %d is after max %d", title, r.Min, r.Max)
		}
	}
	return nil
}

// ValidateSink checks the settings needed by commands that talk to the sink.
func (c Config) ValidateSink() error {
	if strings.TrimSpace(c.Sink.APIKey) == "" {
		return fmt.Errorf("sink.api_key must be set (or TYPESENSE_API_KEY)")
	}
	if strings.TrimSpace(c.Sink.Host) == "" {
		return fmt.Errorf("sink.host is required")
	}
	if c.Sink.Port <= 0 {
		return fmt.Errorf("sink.port must be > 0")
	}
	switch c.Sink.Protocol {
	case "http", "https":
	default:
		return fmt.Errorf("sink.protocol must be http or https, got %q", c.Sink.Protocol)
	}
	if strings.TrimSpace(c.Sink.Collection) == "" {
		return fmt.Errorf("sink.collection is required")
	}
	if c.Sink.WaitForHealthy && c.Sink.HealthTimeoutSeconds <= 0 {
		return fmt.Errorf("sink.health_timeout_seconds must be > 0 when waiting for health")
	}
	return nil
}

func (l LedgerConfig) validate() error {
	switch l.Backend {
	case "dir", "sidecar":
	case "sqlite":
		if l.SQLitePath == "" {
			return fmt.Errorf("ledger.sqlite_path is required for the sqlite ledger")
		}
	case "postgres":
		if l.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", l.Backend)
	}
	return nil
}

func (o OutputConfig) validate() error {
	switch o.Backend {
	case "", "none":
	case "local":
		if o.LocalDir == "" {
			return fmt.Errorf("output.local_dir is required for the local output")
		}
	case "gcs":
		if o.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket is required for the gcs output")
		}
	default:
		return fmt.Errorf("unknown output.backend %q", o.Backend)
	}
	return nil
}

func (n NotifyConfig) validate() error {
	switch n.Backend {
	case "", "none", "memory":
	case "pubsub":
		if n.PubSubProject == "" || n.PubSubTopic == "" {
			return fmt.Errorf("notify.pubsub_project and notify.pubsub_topic are required for pubsub")
		}
	case "nats":
		if n.NATSURL == "" || n.NATSSubject == "" {
			return fmt.Errorf("notify.nats_url and notify.nats_subject are required for nats")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", n.Backend)
	}
	return nil
}

// Timeout converts http.timeout_seconds into a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// HealthTimeout bounds the sink health wait.
func (s SinkConfig) HealthTimeout() time.Duration {
	return time.Duration(s.HealthTimeoutSeconds) * time.Second
}

// HealthInitial is the first backoff interval of the health wait.
func (s SinkConfig) HealthInitial() time.Duration {
	return time.Duration(s.HealthInitialMs) * time.Millisecond
}

// HealthMax caps the backoff interval of the health wait.
func (s SinkConfig) HealthMax() time.Duration {
	return time.Duration(s.HealthMaxMs) * time.Millisecond
}

// ConnectionTimeout bounds single sink requests.
func (s SinkConfig) ConnectionTimeout() time.Duration {
	return time.Duration(s.ConnectionTimeoutSeconds) * time.Second
}
