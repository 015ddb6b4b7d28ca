package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/salesledger/internal/health"
	"github.com/vladislavdragonenkov/salesledger/internal/storage/memory"
	"github.com/vladislavdragonenkov/salesledger/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/salesledger/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	store           domain.Store
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	// false для redis: ключи истекают сами
	cleanupEnabled bool

	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker

	closers []func() error
}

// closeFn закрывает все открытые подключения в обратном порядке.
func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &runtimeDependencies{}
	var pgStore *postgres.Store

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.store = store
		deps.outboxRepo = store.Outbox()
		logger.Warn("using in-memory storage: sales are lost on restart")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres storage requires %s", EnvPostgresDSN)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = deps.closeFn()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		pgStore = store
		deps.store = store
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.storageChecker = healthcheck.NewSimpleChecker("postgres", store.Ping)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch backend := cfg.ResolvedIdempotencyBackend(); backend {
	case IdempotencyBackendMemory, "":
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.cleanupEnabled = true
	case IdempotencyBackendPostgres:
		if pgStore == nil {
			_ = deps.closeFn()
			return nil, fmt.Errorf("postgres idempotency backend requires postgres storage driver")
		}
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(pgStore)
		deps.cleanupEnabled = true
	case IdempotencyBackendRedis:
		client, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = deps.closeFn()
			return nil, err
		}
		deps.closers = append(deps.closers, client.Close)
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
		deps.idempotencyChecker = healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	default:
		_ = deps.closeFn()
		return nil, fmt.Errorf("unsupported idempotency backend %q", backend)
	}

	logger.WithFields(log.Fields{
		"storage":     cfg.StorageDriver,
		"idempotency": cfg.ResolvedIdempotencyBackend(),
	}).Info("storage initialized")

	return deps, nil
}
