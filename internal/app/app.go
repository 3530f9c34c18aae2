package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"releasebot/internal/config"
	"releasebot/internal/filecache"
	"releasebot/internal/metrics"
	"releasebot/internal/relay"
	"releasebot/internal/retention"
	"releasebot/internal/runtime/supervisor"
	"releasebot/internal/server"
	"releasebot/internal/storage"
	"releasebot/internal/telegram"
	logx "releasebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store     storage.Store
	tg        *telegram.Client
	cache     *filecache.Cache
	metrics   *metrics.Metrics
	engine    *relay.Engine
	retention *retention.Job
	server    *server.Server

	// retentionEnabled and addr are fixed at startup; changing them
	// requires a restart.
	retentionEnabled bool
	addr             string

	sup       *supervisor.Supervisor
	closeOnce sync.Once
}

// New loads the config (degrading to an empty one when it is missing or
// invalid) and builds every component without starting anything.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	bootLog := logx.NewConsole("INFO")
	cfgm.SetLogger(bootLog.With(logx.String("comp", "config")))
	cfg := cfgm.LoadOrEmpty()

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(tgCfg, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), tg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	tg.SetLogger(log.With(logx.String("comp", "telegram")))
	if !tg.Enabled() {
		log.Warn("telegram_bot_token not configured; messaging disabled", logx.String("comp", "telegram"))
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:             cfgm,
		log:              log.With(logx.String("comp", "app")),
		logs:             logSvc,
		store:            store,
		tg:               tg,
		cache:            filecache.New(),
		metrics:          metrics.New(),
		retentionEnabled: cfg.RetentionEnabled(),
		addr:             serverAddr(cfg),
	}

	ro, err := mapRetentionOptions(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	ro.Records = store
	ro.Deleter = tg
	ro.Metrics = a.metrics
	ro.Log = log.With(logx.String("comp", "retention"))
	if a.retention, err = retention.New(ro); err != nil {
		a.Close()
		return nil, err
	}

	a.engine = relay.New(relay.Options{
		Messenger: tg,
		Fetcher:   relay.NewHTTPFetcher(tgCfg.UploadTimeout),
		Cache:     a.cache,
		Records:   store,
		Settings:  a.settings,
		Metrics:   a.metrics,
		Log:       log.With(logx.String("comp", "relay")),
	})

	a.server = server.New(server.Options{
		Handler:     a.engine,
		Secret:      a.secret,
		Status:      a.status,
		WebhookPath: cfg.Server.WebhookPath,
		BodyLimit:   cfg.Server.BodyLimit,
		Pprof:       cfg.Server.Pprof,
		Metrics:     a.metrics,
		Log:         log.With(logx.String("comp", "http")),
	})

	if len(cfg.Targets) == 0 {
		a.log.Warn("no targets configured; releases will be ignored")
	}
	if a.secret() == "" {
		a.log.Warn("webhook_secret not configured; signatures will not be verified")
	}
	return a, nil
}

func (a *App) settings() relay.Settings { return mapSettings(a.cfgm.Get()) }

func (a *App) secret() string { return secretOrEmpty(a.cfgm.Get().WebhookSecret) }

func (a *App) status() server.Status {
	cfg := a.cfgm.Get()
	return server.Status{
		TargetUser: cfg.GitHubTargetUser,
		Targets:    len(cfg.Targets),
		Messaging:  a.tg.Enabled(),
	}
}

// Server exposes the HTTP surface (tests drive it through fiber's App.Test).
func (a *App) Server() *server.Server { return a.server }

// Done is closed when the app stops or a component fails fatally.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(validateReload)

	a.sup.Go("http", a.serveHTTP)
	if a.retentionEnabled {
		a.sup.Go("retention", a.retention.Run)
	} else {
		a.log.Info("retention sweep disabled")
	}
	a.sup.Go("config.watch", a.cfgm.Watch)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("releasebot started", logx.String("addr", a.addr), logx.Int("targets", len(a.cfgm.Get().Targets)))
	return nil
}

func (a *App) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Listen(a.addr) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
		return <-errCh
	}
}

// validateReload rejects hot reloads whose values would fail at use time.
func validateReload(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := mapTelegramConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapRetentionOptions(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			changed, fields := config.SummarizeConfigChange(last, cfg)
			last = cfg
			if len(changed) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.log.Info("config change applied", append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)...)
			if r := config.RequiresRestart(changed); len(r) > 0 {
				a.log.Warn("config sections changed that take effect after restart", logx.String("sections", strings.Join(r, ",")))
			}
			a.logs.Apply(mapLogConfig(cfg))
		}
	}
}

// Sweep runs one retention pass regardless of retention.enabled.
func (a *App) Sweep(ctx context.Context) (retention.Report, error) {
	return a.retention.Sweep(ctx)
}

// Stop shuts the HTTP server and background loops down, then releases the
// store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	a.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources without stopping goroutines; used by one-shot
// commands that never call Start.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close", logx.Err(err))
			}
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}
