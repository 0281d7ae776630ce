// Package server builds the command server from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/api"
	"github.com/JakeFAU/cmdgate/internal/archive"
	"github.com/JakeFAU/cmdgate/internal/clock/system"
	"github.com/JakeFAU/cmdgate/internal/config"
	"github.com/JakeFAU/cmdgate/internal/dispatcher"
	"github.com/JakeFAU/cmdgate/internal/id/uuid"
	"github.com/JakeFAU/cmdgate/internal/logging"
	"github.com/JakeFAU/cmdgate/internal/page"
	"github.com/JakeFAU/cmdgate/internal/policy/ratelimit"
	"github.com/JakeFAU/cmdgate/internal/progress"
	progresssinks "github.com/JakeFAU/cmdgate/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/cmdgate/internal/publisher/pubsub"
	"github.com/JakeFAU/cmdgate/internal/registry"
	"github.com/JakeFAU/cmdgate/internal/relay"
	gcsstorage "github.com/JakeFAU/cmdgate/internal/storage/gcs"
	localstorage "github.com/JakeFAU/cmdgate/internal/storage/local"
	pgstore "github.com/JakeFAU/cmdgate/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/cmdgate/internal/storage/sqlite"
	"github.com/JakeFAU/cmdgate/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *registry.Registry
	page        *page.Page
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server
	progressHub *progress.Hub
	recent      *progresssinks.RecentSink
	lookups     *archive.Subscriber
	publisher   relay.Publisher
	registerer  prometheus.Registerer
	closers     []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers request metrics somewhere other than the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithRelayPublisher replaces the Pub/Sub publisher used by the relay.
func WithRelayPublisher(pub relay.Publisher) Option {
	return func(a *App) { a.publisher = pub }
}

// Build creates the application's dependencies. Resources acquired before a
// failure are released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger, err = logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	defer func() {
		if err == nil {
			return
		}
		if app.progressHub != nil {
			_ = app.progressHub.Close(context.Background())
		}
		app.closeResources()
	}()

	app.logger.Info("building application dependencies",
		zap.String("addr", cfg.Addr()),
		zap.Int("capacity", cfg.Pool.Capacity),
	)
	app.registry = registry.New(app.logger.Named("registry"))

	if err = app.setupPage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx); err != nil {
		return nil, err
	}
	if err = app.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = app.setupRelay(ctx); err != nil {
		return nil, err
	}

	var emitter progress.Emitter = progress.NopEmitter{}
	if app.progressHub != nil {
		emitter = app.progressHub
	}
	app.dispatch, err = dispatcher.New(dispatcher.Config{
		Addr:     cfg.Addr(),
		Capacity: cfg.Pool.Capacity,
		Worker: worker.Config{
			ReadTimeout:  cfg.Pool.ReadTimeout,
			WriteTimeout: cfg.Pool.WriteTimeout,
			Page:         app.page,
			Registry:     app.registry,
			Clock:        system.New(),
			IDs:          uuid.New(),
			Emitter:      emitter,
			Logger:       app.logger.Named("worker"),
		},
		Logger: app.logger.Named("dispatcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	if cfg.Admin.Enabled {
		deps := api.Deps{
			Pool:     app.dispatch,
			Commands: app.registry,
			APIKey:   cfg.Admin.APIKey,
			Logger:   app.logger.Named("api"),
		}
		if app.recent != nil {
			deps.Requests = app.recent
		}
		if app.lookups != nil {
			deps.Lookups = app.lookups
		}
		app.apiServer = api.NewServer(deps)
	}
	return app, nil
}

// Registry exposes the subscriber registry so embedders can add their own
// subscribers before Run.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Page returns the static page served for the empty command.
func (a *App) Page() *page.Page {
	return a.page
}

// Dispatcher returns the command listener.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Run listens on the configured addresses and blocks until ctx is canceled
// or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	cmdLn, err := lc.Listen(ctx, "tcp", a.cfg.Addr())
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	var adminLn net.Listener
	if a.apiServer != nil {
		adminLn, err = lc.Listen(ctx, "tcp", a.cfg.AdminAddr())
		if err != nil {
			_ = cmdLn.Close()
			_ = a.Close(context.Background())
			return fmt.Errorf("listen %s: %w", a.cfg.AdminAddr(), err)
		}
	}
	return a.Serve(ctx, cmdLn, adminLn)
}

// Serve runs the command listener on cmdLn and, when adminLn is non-nil and
// the admin API is enabled, the admin API on adminLn. It blocks until ctx
// ends or a listener fails, then shuts everything down.
func (a *App) Serve(ctx context.Context, cmdLn, adminLn net.Listener) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		err := a.dispatch.Serve(ctx, cmdLn)
		if err != nil && !errors.Is(err, dispatcher.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			a.logger.Error("command listener error", zap.Error(err))
			cancel(err)
		}
	}()

	var srv *http.Server
	if a.apiServer != nil && adminLn != nil {
		srv = &http.Server{
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("admin server started", zap.Stringer("addr", adminLn.Addr()))
			if err := srv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("admin server error", zap.Error(err))
				cancel(err)
			}
		}()
	} else if adminLn != nil {
		_ = adminLn.Close()
	}

	a.logger.Info("application started")
	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		errs = append(errs, cause)
	}
	return errors.Join(errs...)
}

// Close stops the dispatcher, flushes progress events and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.dispatch != nil {
		if err := a.dispatch.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	a.closeResources()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) setupPage(ctx context.Context) error {
	switch path := a.cfg.Page.Path; {
	case path == "" && a.cfg.Page.Content == "":
		a.page = page.New(page.Default)
		return nil
	case path == "":
		a.page = page.New(a.cfg.Page.Content)
		return nil
	case gcsstorage.IsURI(path):
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		src, err := gcsstorage.NewFromClient(client, gcsstorage.Config{URI: path})
		if err != nil {
			return fmt.Errorf("gcs page source init failed: %w", err)
		}
		return a.loadPage(ctx, src, path)
	default:
		src, err := localstorage.New(localstorage.Config{Path: path})
		if err != nil {
			return fmt.Errorf("local page source init failed: %w", err)
		}
		return a.loadPage(ctx, src, path)
	}
}

func (a *App) loadPage(ctx context.Context, src page.Source, path string) error {
	a.page = page.New(page.Default)
	if err := a.page.LoadFrom(ctx, src); err != nil {
		return err
	}
	a.logger.Info("static page loaded", zap.String("path", path), zap.Int("bytes", len(a.page.Load())))
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.recent = progresssinks.NewRecentSink(a.cfg.Progress.RecentSize)
	sinkList := []progress.Sink{promSink, a.recent}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   a.cfg.ProgressMaxWait(),
		SinkTimeout:    a.cfg.ProgressSinkTimeout(),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	if !a.cfg.Archive.Enabled {
		return nil
	}
	store, err := OpenArchive(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	a.addCloser("archive store", store.Close)
	a.lookups = archive.NewSubscriber(archive.NewIndex(store), 0, a.logger.Named("archive"))
	a.registry.Subscribe(a.cfg.Archive.Command, a.lookups)
	a.logger.Info("archive lookups enabled",
		zap.String("driver", a.cfg.Archive.Driver),
		zap.String("command", a.cfg.Archive.Command),
	)
	return nil
}

// ArchiveStore is an archive.Store that owns a connection.
type ArchiveStore interface {
	archive.Store
	Close() error
}

type pgArchive struct {
	*pgstore.ArchiveStore
}

func (p pgArchive) Close() error {
	p.ArchiveStore.Close()
	return nil
}

// OpenArchive connects the archive backend named by cfg.Driver.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (ArchiveStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlitestore.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite archive init failed: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := pgstore.NewArchiveStore(ctx, pgstore.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("postgres archive init failed: %w", err)
		}
		return pgArchive{store}, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

func (a *App) setupRelay(ctx context.Context) error {
	if !a.cfg.Relay.Enabled {
		return nil
	}
	if a.publisher == nil {
		pub, err := gcppublisher.Dial(ctx, a.cfg.Relay.ProjectID, a.cfg.Relay.Topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.addCloser("pubsub publisher", pub.Close)
	}
	var relayOpts []relay.Option
	if a.cfg.Relay.RatePerSecond > 0 {
		relayOpts = append(relayOpts, relay.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Relay.RatePerSecond,
			DefaultBurst: a.cfg.Relay.Burst,
		})))
	}
	sub := relay.New(a.publisher, a.logger.Named("relay"), relayOpts...)
	for _, name := range a.cfg.Relay.Commands {
		a.registry.Subscribe(name, sub)
	}
	a.logger.Info("command relay enabled",
		zap.String("project", a.cfg.Relay.ProjectID),
		zap.String("topic", a.cfg.Relay.Topic),
		zap.Strings("commands", a.cfg.Relay.Commands),
		zap.Float64("rate_per_second", a.cfg.Relay.RatePerSecond),
	)
	return nil
}
