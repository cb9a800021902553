package commands

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskmaster/tasklist/internal/adapters/backend/local"
	"github.com/taskmaster/tasklist/internal/adapters/backend/postgres"
	"github.com/taskmaster/tasklist/internal/adapters/backend/redis"
	"github.com/taskmaster/tasklist/internal/adapters/notify"
	"github.com/taskmaster/tasklist/internal/adapters/repository"
	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/infrastructure/config"
	"github.com/taskmaster/tasklist/internal/infrastructure/database"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/infrastructure/metrics"
	"github.com/taskmaster/tasklist/internal/infrastructure/server"
	"github.com/taskmaster/tasklist/internal/ports"
)

// app holds everything one process needs: the stores, the session and the
// task store bound to it.
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	hub     *notify.Hub

	kv  *kvstore.Store
	db  *database.DB
	rdb *goredis.Client

	backend ports.TaskBackend
	session *services.SessionManager
	tasks   *services.TaskStore
	auth    *services.AuthService
	checks  []server.HealthCheck
}

// newApp wires the configured backend and identity provider. extra receives
// notices in addition to the log and the live hub; it may be nil.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, extra ports.Notifier) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.New(),
		hub:     notify.NewHub(0),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.kv, err = kvstore.Open(cfg.Storage.LocalPath)
	if err != nil {
		return nil, err
	}
	a.checks = append(a.checks, server.HealthCheck{Name: "local_store", Check: a.kv.HealthCheck})

	if cfg.Storage.Backend == config.BackendPostgres {
		a.db, err = database.New(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err = a.db.MigrateUp(); err != nil {
			return nil, err
		}
		a.checks = append(a.checks, server.HealthCheck{
			Name:  "database",
			Check: a.db.HealthCheck,
			Stats: a.db.GetConnectionInfo,
		})
	}

	switch cfg.Storage.Backend {
	case config.BackendLocal:
		backend, err := local.New(ctx, a.kv, log)
		if err != nil {
			return nil, err
		}
		a.backend = backend
	case config.BackendRedis:
		a.rdb, err = redis.Connect(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		a.backend = redis.New(a.rdb, cfg.Redis.KeyPrefix, log)
		rdb := a.rdb
		a.checks = append(a.checks, server.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			Stats: func() map[string]interface{} {
				stats := rdb.PoolStats()
				return map[string]interface{}{
					"hits":        stats.Hits,
					"misses":      stats.Misses,
					"total_conns": stats.TotalConns,
					"idle_conns":  stats.IdleConns,
				}
			},
		})
	case config.BackendPostgres:
		a.backend = postgres.New(a.db, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	provider, err := a.identityProvider(ctx)
	if err != nil {
		return nil, err
	}

	notifiers := notify.Multi{notify.NewLogNotifier(log), a.hub}
	if extra != nil {
		notifiers = append(notifiers, extra)
	}

	a.session = services.NewSessionManager(
		repository.NewIdentityRepository(a.kv),
		provider,
		cfg.Auth.MinPasswordLength,
		notifiers,
		a.metrics,
		log,
	)
	a.session.Bootstrap(ctx)

	a.tasks = services.NewTaskStore(a.backend, cfg.Storage.Backend, a.session, notifiers, a.metrics, log)

	a.auth, err = services.NewAuthService(cfg.JWT, log)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// identityProvider picks how credentials become users. Accounts live next to
// the tasks when tasks are in Postgres and in the local store otherwise.
func (a *app) identityProvider(ctx context.Context) (ports.IdentityProvider, error) {
	if a.cfg.Auth.Provider != config.ProviderAccounts {
		return services.NewPlaceholderProvider(), nil
	}

	if a.db != nil {
		return services.NewAccountProvider(repository.NewUserRepository(a.db.DB), a.logger), nil
	}

	creds, err := repository.NewCredentialRepository(ctx, a.kv)
	if err != nil {
		return nil, err
	}
	return services.NewAccountProvider(creds, a.logger), nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	if a.tasks != nil {
		a.tasks.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.kv != nil {
		a.kv.Close()
	}
}
