// Package bootstrap turns configuration into the long-lived collaborators the
// binaries share: the selected store backend and the service graph on top of
// it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vanshika/iou/backend/internal/config"
	"github.com/vanshika/iou/backend/internal/graph"
	"github.com/vanshika/iou/backend/internal/ratelimit"
	"github.com/vanshika/iou/backend/internal/repository"
	"github.com/vanshika/iou/backend/internal/service"
	"github.com/vanshika/iou/backend/internal/session"
)

// CloseFunc releases a store's resources.
type CloseFunc func(ctx context.Context) error

// OpenStore connects the backend named by cfg.Store.Driver, preparing its
// schema when configured to.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.Store, CloseFunc, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), func(context.Context) error { return nil }, nil

	case config.DriverPostgres:
		db, err := repository.OpenPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConnections)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.MigrateOnStart {
			if err := repository.ApplyMigrations(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}
		store := repository.NewSQLStore(db)
		return store, func(context.Context) error { return store.Close() }, nil

	case config.DriverNeo4j:
		client, err := graph.NewNeo4jClient(ctx, graph.Options{
			URI:            cfg.Graph.URI,
			Database:       cfg.Graph.Database,
			Username:       cfg.Graph.Username,
			Password:       cfg.Graph.Password,
			MaxConnections: cfg.Graph.MaxConnections,
		})
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewGraphStore(client)
		if cfg.Store.MigrateOnStart {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = client.Close(ctx)
				return nil, nil, fmt.Errorf("ensure graph schema: %w", err)
			}
			logger.Info("graph schema ensured")
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Services is the service graph built over one store.
type Services struct {
	Credentials *service.Credentials
	Linker      *service.Linker
	Notifier    *service.Notifier
	Ledger      *service.Ledger
	Auth        *service.AuthService
	Limits      ratelimit.Set
}

// NewServices wires the services for store according to cfg.
func NewServices(cfg config.Config, store service.Store, logger *slog.Logger) (*Services, error) {
	sessions, err := session.NewIssuer(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return nil, err
	}
	limits := ratelimit.NewSet(
		policy(cfg.RateLimit.PhoneCheck),
		policy(cfg.RateLimit.Auth),
		policy(cfg.RateLimit.API),
	)

	creds := service.NewCredentials(store, cfg.Auth.BcryptCost)
	linker := service.NewLinker(store, store, logger.With("component", "linker"))
	notifier := service.NewNotifier(store)
	ledger := service.NewLedger(store, linker, notifier, logger.With("component", "ledger"))
	auth := service.NewAuthService(creds, store, linker, sessions, limits, logger.With("component", "auth"))

	return &Services{
		Credentials: creds,
		Linker:      linker,
		Notifier:    notifier,
		Ledger:      ledger,
		Auth:        auth,
		Limits:      limits,
	}, nil
}

func policy(c config.LimitConfig) ratelimit.Policy {
	return ratelimit.Policy{Limit: c.Limit, Window: c.Window}
}
