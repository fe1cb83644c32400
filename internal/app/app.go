// Package app initializes and holds long-lived harvester services, acting as a dependency injection
// container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/api"
	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/config"
	"github.com/zeynepaki/tgv-prototype/internal/convert"
	collyfetcher "github.com/zeynepaki/tgv-prototype/internal/fetcher/colly"
	"github.com/zeynepaki/tgv-prototype/internal/hocr"
	"github.com/zeynepaki/tgv-prototype/internal/ledger"
	"github.com/zeynepaki/tgv-prototype/internal/loader"
	"github.com/zeynepaki/tgv-prototype/internal/output"
	memorypublisher "github.com/zeynepaki/tgv-prototype/internal/publisher/memory"
	natspublisher "github.com/zeynepaki/tgv-prototype/internal/publisher/nats"
	pubsubpublisher "github.com/zeynepaki/tgv-prototype/internal/publisher/pubsub"
	typesensesink "github.com/zeynepaki/tgv-prototype/internal/sink/typesense"
	"github.com/zeynepaki/tgv-prototype/internal/source"
	"github.com/zeynepaki/tgv-prototype/internal/storage/gcs"
	"github.com/zeynepaki/tgv-prototype/internal/storage/local"
)

// ErrFetchIncomplete is returned when some fetch units failed. The successful ones are kept.
var ErrFetchIncomplete = errors.New("fetch incomplete")

// App holds the shared services of one harvester invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	fetcher  *collyfetcher.Fetcher
	store    *local.BlobStore
	ledger   archive.Ledger
	registry *source.Registry
	status   *api.Status

	sink      archive.Sink
	outStore  archive.BlobStore
	publisher archive.Publisher
	closers   []func() error
}

// Option overrides a service the App would otherwise build from configuration.
type Option func(*App)

// WithSink replaces the Typesense sink.
func WithSink(s archive.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithOutputStore replaces the output blob store.
func WithOutputStore(s archive.BlobStore) Option {
	return func(a *App) { a.outStore = s }
}

// WithPublisher replaces the run notifier.
func WithPublisher(p archive.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// New builds the fetch and conversion services. Output, notification, and sink clients are opened
// lazily by the commands that need them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, status: api.NewStatus()}
	for _, opt := range opts {
		opt(a)
	}

	store, err := local.New(local.Config{BaseDir: cfg.DataDir})
	if err != nil {
		return nil, fmt.Errorf("init data store: %w", err)
	}
	a.store = store

	if cfg.HTTP.CacheDir != "" {
		if err := os.MkdirAll(cfg.HTTP.CacheDir, 0o750); err != nil {
			return nil, fmt.Errorf("create http cache dir: %w", err)
		}
	}
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           cfg.HTTP.Timeout(),
		CacheDir:          cfg.HTTP.CacheDir,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		RespectRobots:     cfg.HTTP.RespectRobots,
	})

	led, err := ledger.Open(ctx, cfg.Ledger, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.ledger = led
	a.closers = append(a.closers, led.Close)

	var converter archive.HOCRConverter = hocr.Converter{}
	if cfg.HOCR.Command != "" {
		converter = hocr.CommandConverter{Command: cfg.HOCR.Command, Args: cfg.HOCR.Args}
	}

	registry, err := source.NewRegistry(cfg.Sources, source.Deps{
		DataRoot: cfg.DataDir,
		Getter:   a.fetcher,
		Links:    a.fetcher,
		Store:    store,
		Ledger:   led,
		HOCR:     converter,
		Logger:   logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init sources: %w", err)
	}
	a.registry = registry

	logger.Info("Harvester services initialized",
		zap.String("data_dir", cfg.DataDir),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.Bool("hocr_command", cfg.HOCR.Command != ""))
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Registry returns the source registry.
func (a *App) Registry() *source.Registry { return a.registry }

// Status returns the run tracker served by the status API.
func (a *App) Status() *api.Status { return a.status }

// ParseKinds maps source names to kinds. No names means every source.
func ParseKinds(names []string) ([]archive.Kind, error) {
	kinds := make([]archive.Kind, 0, len(names))
	for _, name := range names {
		k, err := archive.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Fetch harvests kinds and returns ErrFetchIncomplete when any unit failed.
func (a *App) Fetch(ctx context.Context, kinds []archive.Kind) (archive.FetchReport, error) {
	report, err := a.registry.Fetch(ctx, kinds)
	if err != nil {
		return report, err
	}
	if report.Failed > 0 || len(report.Errors) > 0 {
		return report, fmt.Errorf("%w: %d failed, %d errors", ErrFetchIncomplete, report.Failed, len(report.Errors))
	}
	return report, nil
}

// Converter builds the batch converter over every normalizing source.
func (a *App) Converter() (*convert.Converter, error) {
	return convert.New(convert.Config{
		BatchSize:    a.cfg.Convert.BatchSize,
		Workers:      a.cfg.Convert.Workers,
		MaxDropRatio: a.cfg.Convert.MaxDropRatio,
	}, a.cfg.DataDir, a.registry.Processors(), a.logger)
}

// Convert writes the NDJSON output to path. A degraded run still leaves the file in place.
func (a *App) Convert(ctx context.Context, path string) (convert.Report, error) {
	conv, err := a.Converter()
	if err != nil {
		return convert.Report{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return convert.Report{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	return conv.ConvertFile(ctx, path)
}

// Shipper builds the output uploader and run notifier from configuration.
func (a *App) Shipper(ctx context.Context) (*output.Shipper, error) {
	if a.outStore == nil {
		store, err := a.openOutputStore(ctx)
		if err != nil {
			return nil, err
		}
		a.outStore = store
	}
	if a.publisher == nil {
		pub, err := a.openPublisher(ctx)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
	}
	topic := a.cfg.Notify.PubSubTopic
	if a.cfg.Notify.Backend == "nats" {
		topic = a.cfg.Notify.NATSSubject
	}
	return output.New(a.outStore, a.publisher, output.Config{
		ObjectName: a.cfg.Output.ObjectName,
		Topic:      topic,
	}, a.logger), nil
}

func (a *App) openOutputStore(ctx context.Context) (archive.BlobStore, error) {
	switch a.cfg.Output.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Output.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local output: %w", err)
		}
		return store, nil
	case "gcs":
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs output: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("Using GCS output", zap.String("bucket", a.cfg.Output.GCSBucket))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) openPublisher(ctx context.Context) (archive.Publisher, error) {
	switch a.cfg.Notify.Backend {
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		pub, err := pubsubpublisher.Dial(ctx, a.cfg.Notify.PubSubProject, a.cfg.Notify.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("Connected to Pub/Sub", zap.String("topic", a.cfg.Notify.PubSubTopic))
		return pub, nil
	case "nats":
		pub, err := natspublisher.Connect(a.cfg.Notify.NATSURL, a.cfg.Notify.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("init nats notifier: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("Connected to NATS", zap.String("subject", a.cfg.Notify.NATSSubject))
		return pub, nil
	default:
		return nil, nil
	}
}

// Loader validates the sink settings and builds the bulk loader.
func (a *App) Loader() (*loader.Loader, error) {
	if a.sink == nil {
		if err := a.cfg.ValidateSink(); err != nil {
			return nil, err
		}
		sink, err := typesensesink.New(typesensesink.Config{
			Host:              a.cfg.Sink.Host,
			Port:              a.cfg.Sink.Port,
			Protocol:          a.cfg.Sink.Protocol,
			Path:              a.cfg.Sink.Path,
			APIKey:            a.cfg.Sink.APIKey,
			ConnectionTimeout: a.cfg.Sink.ConnectionTimeout(),
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init sink: %w", err)
		}
		a.sink = sink
	}
	return loader.New(a.sink, loader.Config{
		Collection:     a.cfg.Sink.Collection,
		BatchSize:      a.cfg.Sink.BatchSize,
		WaitForHealthy: a.cfg.Sink.WaitForHealthy,
		HealthTimeout:  a.cfg.Sink.HealthTimeout(),
		HealthInitial:  a.cfg.Sink.HealthInitial(),
		HealthMax:      a.cfg.Sink.HealthMax(),
	}, a.logger)
}

// ServeStatus starts the status API in the background when metrics.addr is set. It stops with ctx.
func (a *App) ServeStatus(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	srv := api.NewServer(a.status, a.logger.Named("api"))
	go func() {
		if err := srv.Serve(ctx, a.cfg.Metrics.Addr); err != nil {
			a.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

// OnClose registers fn to run when the App closes.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every opened client. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
