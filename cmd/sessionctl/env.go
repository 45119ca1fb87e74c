package main

import (
	"context"
	"fmt"

	"github.com/dom/event-portal/internal/authclient"
	"github.com/dom/event-portal/internal/config"
	"github.com/dom/event-portal/internal/repository/postgres"
	"github.com/dom/event-portal/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// env is one tab wired to the configured stores.
type env struct {
	cfg     *config.ClientConfig
	log     *zap.Logger
	client  *authclient.Client
	redis   *redis.Client
	db      *gorm.DB
	pointer session.Pointer
	manager *session.Manager
	close   func()
}

// newEnv builds the tab for cfg. Pointer and notifier live in Redis unless
// the memory store is selected; postgres only swaps the record store.
func newEnv(cfg *config.ClientConfig, log *zap.Logger) (*env, error) {
	e := &env{
		cfg:    cfg,
		log:    log,
		client: authclient.New(cfg.APIURL, authclient.WithLogger(log)),
		close:  func() {},
	}

	var (
		store    session.Store
		notifier session.Notifier
	)

	switch cfg.SessionStore {
	case config.StoreMemory:
		store = session.NewMemoryStore(log)
		e.pointer = session.NewMemoryPointer()
		notifier = session.NewMemoryNotifier()

	case config.StoreRedis, config.StorePostgres:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		e.redis = redis.NewClient(opts)
		e.close = func() { e.redis.Close() }

		e.pointer = session.NewRedisPointer(e.redis, cfg.SessionPrefix, cfg.TabID, cfg.PointerTTL, log)
		notifier = session.NewRedisNotifier(e.redis, cfg.SessionPrefix, log)
		store = session.NewRedisStore(e.redis, cfg.SessionPrefix, log)

		if cfg.SessionStore == config.StorePostgres {
			db, err := postgres.Open(cfg.DatabaseURL, logger.Warn)
			if err != nil {
				e.close()
				return nil, fmt.Errorf("connect to database: %w", err)
			}
			e.db = db
			closeRedis := e.close
			e.close = func() {
				if err := postgres.Close(db); err != nil {
					log.Warn("failed to close database", zap.Error(err))
				}
				closeRedis()
			}
			if err := session.MigrateGormStore(db); err != nil {
				e.close()
				return nil, fmt.Errorf("migrate session table: %w", err)
			}
			store = session.NewGormStore(db, log)
		}
	}

	e.manager = session.NewManager(store, e.pointer, e.client,
		session.WithLogger(log),
		session.WithNotifier(notifier),
		session.WithTabID(cfg.TabID),
		session.WithTimeout(cfg.OpTimeout),
	)
	return e, nil
}

// restore runs the boot restore and reports a failure the way a user sees it.
func (e *env) restore(ctx context.Context) error {
	if err := e.manager.RestoreAtBoot(ctx); err != nil {
		return fmt.Errorf("%s (%w)", session.UserMessage(err), err)
	}
	return nil
}
