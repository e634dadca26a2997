package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/stepflow/internal/config"
	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/internal/tracing"
	"github.com/aretw0/stepflow/pkg/adapters/file"
	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/adapters/postgrest"
	redisstore "github.com/aretw0/stepflow/pkg/adapters/redis"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/observability"
	"github.com/aretw0/stepflow/pkg/persistence/middleware"
	"github.com/aretw0/stepflow/pkg/ports"
	"github.com/aretw0/stepflow/pkg/registry"
	"github.com/aretw0/stepflow/pkg/session"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds everything a host needs, built from configuration.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Flows   *registry.Registry
	Store   ports.StateStore
	Caller  ports.Caller
	Metrics *observability.Metrics
	Manager *session.Manager
	Version string
	closers []func(context.Context) error
}

// NewLogger builds the application logger from configuration.
func NewLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Log.Format == "json" {
		return logging.NewJSON(level), nil
	}
	return logging.New(level), nil
}

// LoadFlows registers the built-in flows plus every flow file found in dir.
func LoadFlows(dir string) (*registry.Registry, error) {
	reg, err := registry.New(flow.Builtins()...)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return reg, nil
	}
	defs, err := flow.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// NewApp wires the flow registry, snapshot store, RPC caller, metrics and session manager.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger, version string) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Version: version}

	flows, err := LoadFlows(cfg.Flows.Dir)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	app.Flows = flows

	var managerOpts []session.Option
	if cfg.Redis.Addr != "" {
		store := redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redisstore.WithPrefix(cfg.Redis.Prefix),
			redisstore.WithTTL(cfg.Redis.TTL),
		)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			store.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		app.Store = store
		app.closers = append(app.closers, func(context.Context) error { return store.Close() })
		if cfg.Redis.Lock {
			managerOpts = append(managerOpts,
				session.WithLocker(redisstore.NewLocker(store.Client(), cfg.Redis.Prefix+"lock:")),
				session.WithLockTTL(cfg.Redis.LockTTL),
			)
		}
		logger.Info("using redis snapshot store", "addr", cfg.Redis.Addr, "locking", cfg.Redis.Lock)
	} else if cfg.Store.Dir != "" {
		app.Store = file.New(cfg.Store.Dir)
		logger.Info("using file snapshot store", "dir", cfg.Store.Dir)
	} else {
		app.Store = memory.NewStore()
	}

	if cfg.Store.EncryptionKey != "" {
		keys, err := middleware.ParseKeys(cfg.Store.EncryptionKey, cfg.Store.FallbackKeys)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		sealed, err := middleware.NewEncryption(keys)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.Store = middleware.Chain(app.Store, sealed)
		logger.Debug("snapshots are sealed at rest", "fallback_keys", len(keys.FallbackKeys))
	}

	if cfg.Backend.URL != "" {
		clientOpts := []postgrest.Option{
			postgrest.WithTimeout(cfg.Backend.Timeout),
			postgrest.WithLogger(logger),
		}
		if cfg.Backend.AccessToken != "" {
			clientOpts = append(clientOpts, postgrest.WithAccessToken(cfg.Backend.AccessToken))
		}
		if cfg.Tracing.Enabled {
			tp, closeOutput, err := newTracerProvider(cfg, version)
			if err != nil {
				app.Close(ctx)
				return nil, err
			}
			clientOpts = append(clientOpts, postgrest.WithTracerProvider(tp))
			app.closers = append(app.closers, func(ctx context.Context) error {
				return errors.Join(tp.Shutdown(ctx), closeOutput.Close())
			})
		}
		client, err := postgrest.New(cfg.Backend.URL, cfg.Backend.APIKey, clientOpts...)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.Caller = client
		logger.Info("using rpc backend", "url", cfg.Backend.URL)
	} else {
		app.Caller = memory.NewDefaultBackend()
		logger.Warn("no backend url configured, completion calls are served in memory")
	}

	app.Metrics = observability.NewMetrics()
	if cfg.Backend.Timeout > 0 {
		managerOpts = append(managerOpts, session.WithBusyTimeout(2*cfg.Backend.Timeout))
	}
	managerOpts = append(managerOpts,
		session.WithLogger(logger),
		session.WithLifecycleHooks(app.Metrics.Hooks()),
		session.WithLifecycleHooks(observability.LogHooks(logger)),
	)
	app.Manager = session.NewManager(app.Flows, app.Store, app.Caller, managerOpts...)
	return app, nil
}

func newTracerProvider(cfg config.Config, version string) (*sdktrace.TracerProvider, io.Closer, error) {
	out, err := tracing.OpenOutput(cfg.Tracing.Output)
	if err != nil {
		return nil, nil, err
	}
	tp, err := tracing.NewProvider("stepflow", version, out)
	if err != nil {
		out.Close()
		return nil, nil, err
	}
	return tp, out, nil
}

// Close releases the store connection and flushes spans.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
