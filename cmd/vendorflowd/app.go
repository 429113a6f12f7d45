package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/analyzer"
	"github.com/fyrsmithlabs/vendorflow/internal/config"
	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/events"
	"github.com/fyrsmithlabs/vendorflow/internal/extraction"
	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/lock"
	"github.com/fyrsmithlabs/vendorflow/internal/logging"
	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/redact"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/telemetry"
	"github.com/fyrsmithlabs/vendorflow/internal/workflows"
)

// notifier receives every domain event the engine and linker emit.
type notifier interface {
	decision.Notifier
	linking.Notifier
}

// app holds the wired daemon. Fields that are nil were disabled by
// configuration.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	store       *store.Store
	definitions *signals.Cache
	watcher     *signals.Watcher
	redisLock   *lock.Redis
	nc          *nats.Conn
	subscriber  *events.Subscriber

	engine   *decision.Engine
	linker   *linking.Linker
	pipeline *pipeline.Service
	queue    *pipeline.Queue

	temporal  client.Client
	worker    worker.Worker
	scheduler *decision.ExpiryScheduler

	server *httpserver.Server

	closeOnce sync.Once
}

// buildApp loads configuration and wires every component. Nothing is
// started; Run does that.
func buildApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return a, err
	}
	a.log, err = newLogger(cfg, a.telemetry)
	if err != nil {
		return a, err
	}
	a.logger = a.log.Underlying()
	a.log.Info(ctx, "starting vendorflow",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("sweep", cfg.Sweep.Mode))

	a.store, err = openStore(ctx, cfg, a.logger, cfg.Database.AutoMigrate)
	if err != nil {
		return a, err
	}

	if err = a.initDefinitions(); err != nil {
		return a, err
	}

	var note notifier = events.NopPublisher{}
	if cfg.NATS.Enabled {
		a.nc, err = events.Connect(cfg.NATS, a.logger)
		if err != nil {
			return a, err
		}
		note = events.NewPublisher(a.nc, a.logger)
		a.subscriber = events.NewSubscriber(a.nc, cfg.NATS.QueueGroup, a.logger)
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Enabled {
		a.redisLock, err = lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix + "lock:",
			TTL:      cfg.Redis.LockTTL.Duration(),
		}, a.logger)
		if err != nil {
			return a, err
		}
		locker = a.redisLock
	}

	if err = a.initServices(note, locker); err != nil {
		return a, err
	}

	var enqueuer httpserver.Enqueuer = a.queue
	if cfg.Temporal.Enabled {
		if err = a.initTemporal(ctx); err != nil {
			return a, err
		}
		enqueuer = temporalEnqueuer{starter: workflows.NewStarter(a.temporal, cfg.Temporal.TaskQueue)}
	}

	if cfg.Sweep.Mode == config.SweepModeLocal {
		a.scheduler, err = decision.NewExpiryScheduler(a.engine, a.logger.Named("sweep"),
			decision.WithInterval(cfg.Sweep.Interval.Duration()),
			decision.WithSweepTimeout(cfg.Sweep.Timeout.Duration()))
		if err != nil {
			return a, err
		}
	}

	a.server, err = httpserver.NewServer(httpserver.Services{
		Store:       a.store,
		Pipeline:    a.pipeline,
		Linker:      a.linker,
		Engine:      a.engine,
		Definitions: a.definitions,
		Queue:       enqueuer,
		Telemetry:   a.telemetry,
	}, a.logger.Named("http"), &httpserver.Config{
		Host:                cfg.Server.Host,
		Port:                cfg.Server.Port,
		Version:             version,
		ReadOnlyDefinitions: cfg.Definitions.Source == config.DefinitionSourceFile,
	})
	return a, err
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(lc, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*store.Store, error) {
	st, err := store.Open(store.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN.Value(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration(),
		SlowQuery:       cfg.Database.SlowQuery.Duration(),
		LogQueries:      cfg.Database.LogQueries,
	}, logger)
	if err != nil {
		return nil, err
	}
	if !migrate {
		return st, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}
	if cfg.Definitions.Seed && cfg.Definitions.Source == config.DefinitionSourceStore {
		seeded, err := st.SeedDefinitions(ctx, signals.DefaultDefinitions())
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("seeding definitions: %w", err)
		}
		if seeded {
			logger.Info("seeded default status definitions")
		}
	}
	return st, nil
}

func (a *app) initDefinitions() error {
	var (
		source signals.Source = store.NewDefinitionSource(a.store)
		err    error
	)
	if a.cfg.Definitions.Source == config.DefinitionSourceFile {
		source = signals.NewFileSource(a.cfg.Definitions.Path)
	}
	a.definitions = signals.NewCache(source,
		signals.WithCacheLogger(a.logger.Named("definitions")),
		signals.WithLoadHook(metrics.RecordDefinitionLoad))

	if a.cfg.Definitions.Source == config.DefinitionSourceFile && a.cfg.Definitions.Watch {
		a.watcher, err = signals.NewWatcher(a.cfg.Definitions.Path, a.definitions, a.logger.Named("definitions"))
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) initServices(note notifier, locker lock.Locker) error {
	rc := redact.DefaultConfig()
	rc.Enabled = a.cfg.Redaction.Enabled
	rc.Replacement = a.cfg.Redaction.Replacement
	rc.AllowList = a.cfg.Redaction.AllowList
	scrubber, err := redact.New(rc)
	if err != nil {
		return fmt.Errorf("redaction: %w", err)
	}

	ext, err := extraction.NewExtractor(extraction.Config{
		Provider:    a.cfg.Extraction.Provider,
		Model:       a.cfg.Extraction.Model,
		APIKey:      a.cfg.Extraction.APIKey.Value(),
		BaseURL:     a.cfg.Extraction.BaseURL,
		MaxTokens:   a.cfg.Extraction.MaxTokens,
		Timeout:     a.cfg.Extraction.Timeout.Duration(),
		MaxRetries:  a.cfg.Extraction.MaxRetries,
		BaseBackoff: a.cfg.Extraction.BaseBackoff.Duration(),
	}, scrubber)
	if err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if !ext.Available() {
		a.logger.Info("AI extraction disabled, using signal matching only")
	}

	an, err := analyzer.New(ext, a.definitions, a.store, a.logger.Named("analyzer"), analyzer.Config{
		Timeout: a.cfg.Analysis.Timeout.Duration(),
		Version: a.cfg.Analysis.Version,
	})
	if err != nil {
		return err
	}
	a.linker, err = linking.New(a.store, a.logger.Named("linking"), a.cfg.Linking, linking.WithNotifier(note))
	if err != nil {
		return err
	}
	a.engine, err = decision.New(a.store, a.definitions, a.logger.Named("decision"), a.cfg.Decision,
		decision.WithNotifier(note),
		decision.WithLocker(locker))
	if err != nil {
		return err
	}
	a.pipeline, err = pipeline.NewService(a.store, an, a.linker, a.engine, a.logger.Named("pipeline"))
	if err != nil {
		return err
	}
	a.queue = pipeline.NewQueue(a.pipeline, a.cfg.Workers, a.logger.Named("queue"))
	return nil
}

func (a *app) initTemporal(ctx context.Context) error {
	tcfg := a.cfg.Temporal
	if a.cfg.Sweep.Interval > 0 {
		tcfg.SweepInterval = a.cfg.Sweep.Interval.Duration()
	}
	c, err := workflows.Dial(tcfg, a.logger.Named("temporal"))
	if err != nil {
		return err
	}
	a.temporal = c
	a.worker = workflows.NewWorker(c, tcfg, &workflows.Activities{Engine: a.engine, Pipeline: a.pipeline})
	if a.cfg.Sweep.Mode == config.SweepModeTemporal {
		if err := workflows.EnsureExpirySchedule(ctx, c, tcfg); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the background components and serves HTTP until ctx is
// cancelled, then shuts everything down.
func (a *app) Run(ctx context.Context) error {
	defer a.Close(context.Background())

	a.queue.Start(ctx)
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
	}
	if a.subscriber != nil {
		if err := a.subscriber.Start(ctx, a.ingest); err != nil {
			return err
		}
	}
	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("starting temporal worker: %w", err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	return nil
}

func (a *app) ingest(ctx context.Context, req events.IngestRequest) error {
	a.log.Debug(logging.WithThreadID(ctx, req.ThreadID), "ingest request received", zap.Bool("force", req.Force))
	return a.queue.Enqueue(req.ThreadID, pipeline.Options{Force: req.Force})
}

// Close releases resources in reverse order of acquisition. It tolerates a
// partially built app and only runs once.
func (a *app) Close(ctx context.Context) {
	a.closeOnce.Do(func() { a.close(ctx) })
}

func (a *app) close(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.subscriber != nil {
		_ = a.subscriber.Stop()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.queue != nil {
		a.queue.Stop()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if a.redisLock != nil {
		_ = a.redisLock.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// temporalEnqueuer hands async thread runs to Temporal.
type temporalEnqueuer struct {
	starter *workflows.Starter
}

func (t temporalEnqueuer) Enqueue(threadID string, opts pipeline.Options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := t.starter.ProcessThread(ctx, threadID, opts.Force)
	return err
}
