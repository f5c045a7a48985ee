package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pideck/internal/cmdexec"
	"pideck/internal/config"
	"pideck/internal/controllers"
	"pideck/internal/middleware"
	"pideck/internal/routes"
	"pideck/internal/services"
	"pideck/internal/storage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

// App holds every long-lived component of a running dashboard.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	Telemetry *services.Telemetry
	Monitor   *services.Monitor
	Scheduler *services.Scheduler
	History   *services.HistoryService
	Hub       *services.WebSocketHub
	Catalog   *services.LogCatalog
	Tailer    *services.LogTailer
	Follower  *services.LogFollower
	Processes *services.ProcessLister
	Host      *services.HostSource
	Auth      *services.AuthService
}

// NewApp builds the component graph. The history store is opened here and
// closed by Run.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	runner := cmdexec.New()
	telemetry := services.NewTelemetry()

	store, err := storage.NewHistoryStore(cfg.HistoryBackend, cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	sources, err := cfg.LogSources()
	if err != nil {
		store.Close()
		return nil, err
	}

	auth, err := services.NewAuthService(cfg.Password, cfg.SessionSecret, cfg.SessionTTL, nil, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	app := &App{cfg: cfg, logger: logger, Telemetry: telemetry, Auth: auth}
	app.History = services.NewHistoryService(store, cfg.HistoryRetention, cfg.HistoryQueue, nil, telemetry, logger)
	app.Host = newHostSource(cfg, runner, logger)
	app.Monitor = newMonitor(cfg, app.Host, app.History, telemetry, logger)
	app.Scheduler = services.NewScheduler(app.Monitor, cfg.PollInterval, logger)
	app.Hub = services.NewWebSocketHub(app.Monitor.GetActiveAlerts, nil, logger)
	app.Monitor.SetPublisher(app.Hub)
	app.Processes = services.NewProcessLister(runner, cfg.CommandTimeout, logger)

	app.Catalog = newCatalog(cfg, sources, logger)
	app.Tailer = newTailer(cfg, app.Catalog, runner, logger)
	app.Follower = services.NewLogFollower(app.Catalog, runner, cfg.FollowBuffer, telemetry, logger)

	return app, nil
}

func newHostSource(cfg config.Config, runner cmdexec.Runner, logger *slog.Logger) *services.HostSource {
	return services.NewHostSource(services.HostSourceConfig{
		ThermalZonePath: cfg.ThermalZonePath,
		ThermalDir:      cfg.ThermalDir,
		CPUSysPath:      cfg.CPUSysPath,
		SysBlockPath:    cfg.SysBlockPath,
		CommandTimeout:  cfg.CommandTimeout,
	}, runner, logger)
}

func newMonitor(cfg config.Config, source services.MetricSource, history *services.HistoryService, telemetry *services.Telemetry, logger *slog.Logger) *services.Monitor {
	sampler := services.NewCounterSampler(logger,
		services.WithBootstrapDelay(cfg.BootstrapDelay),
		services.WithMinSampleGap(cfg.MinSampleGap),
	)

	builder := services.NewSnapshotBuilder(services.SnapshotBuilderConfig{
		SubFetchTimeout: cfg.SubFetchTimeout,
		TopProcesses:    cfg.TopProcesses,
		HostInfoTTL:     cfg.HostInfoTTL,
	}, source, sampler, nil, telemetry, logger)

	alerts := services.NewAlertEvaluator(cfg.TemperatureThreshold, nil)

	return services.NewMonitor(services.MonitorConfig{SnapshotMaxAge: cfg.SnapshotMaxAge},
		builder, history, alerts, nil, telemetry, logger)
}

func newCatalog(cfg config.Config, sources []config.LogSource, logger *slog.Logger) *services.LogCatalog {
	return services.NewLogCatalog(services.LogCatalogConfig{
		Sources:     sources,
		LogsDir:     cfg.LogsDir,
		Roots:       cfg.LogRoots,
		MaxFileSize: cfg.LogMaxFileSize,
	}, logger)
}

func newTailer(cfg config.Config, catalog *services.LogCatalog, runner cmdexec.Runner, logger *slog.Logger) *services.LogTailer {
	return services.NewLogTailer(services.LogTailConfig{
		WindowBytes:        cfg.TailWindowBytes,
		MaxLines:           cfg.TailMaxLines,
		LargeFileScanLines: cfg.LargeFileScanLines,
		Timeout:            cfg.TailTimeout,
	}, catalog, runner, logger)
}

// Handler builds the HTTP router for the app.
func (a *App) Handler() (http.Handler, error) {
	security := middleware.NewSecurityLogger(a.logger)

	var whitelist *middleware.IPWhitelist
	if len(a.cfg.AllowedIPs) > 0 {
		wl, err := middleware.NewIPWhitelist(a.cfg.AllowedIPs)
		if err != nil {
			return nil, fmt.Errorf("%w: allowed ips: %w", config.ErrInvalidConfig, err)
		}
		whitelist = wl
	}

	var apiLimiter *middleware.RateLimiter
	if a.cfg.RequestRate > 0 {
		apiLimiter = middleware.NewRateLimiter(rate.Limit(a.cfg.RequestRate), a.cfg.RequestBurst)
	}

	handlers := routes.Handlers{
		System:      controllers.NewSystemController(a.Monitor, a.Processes, nil),
		HostMetrics: controllers.NewHostMetricsController(a.Host, a.cfg.SubFetchTimeout, a.logger),
		Logs: controllers.NewLogsController(controllers.LogsControllerConfig{
			DefaultLines: a.cfg.TailDefaultLines,
			Keepalive:    a.cfg.FollowKeepalive,
		}, a.Catalog, a.Tailer, a.Follower, a.cfg.AllowedOrigins, a.logger),
		Auth:        controllers.NewAuthController(a.Auth, security, a.cfg.SecureCookies),
		WebSocket:   controllers.NewWebSocketController(a.Hub, a.Monitor, a.cfg.AllowedOrigins, security, a.logger),
		Metrics:     a.Telemetry.Handler(),
	}

	return routes.NewRouter(handlers, routes.Options{
		AuthService:    a.Auth,
		Security:       security,
		LoginLimiter:   middleware.NewLoginRateLimiter(a.cfg.LoginAttempts, a.cfg.LoginWindow),
		APILimiter:     apiLimiter,
		Whitelist:      whitelist,
		AllowedOrigins: a.cfg.AllowedOrigins,
		SecureCookies:  a.cfg.SecureCookies,
	}), nil
}

// Run serves until ctx is cancelled, then shuts everything down in order:
// HTTP first, then follow sessions, then the history writer.
func (a *App) Run(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		a.History.Close()
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	historyCtx, stopHistory := context.WithCancel(context.WithoutCancel(ctx))
	historyDone := make(chan error, 1)
	go func() { historyDone <- a.History.Run(historyCtx) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})

	g.Go(func() error {
		return a.Hub.Run(gctx)
	})

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// Follow streams never finish on their own; end them before
		// waiting on in-flight requests.
		a.Follower.Close()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	a.Follower.Close()
	stopHistory()
	<-historyDone

	return errors.Join(runErr, a.History.Close())
}
