package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	pingTimeout     = 5 * time.Second
	applicationName = "sales-service"
)

// PoolConfig задаёт параметры пула соединений database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig подходит для одного инстанса sales-service.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Option настраивает Open.
type Option func(*PoolConfig)

// WithPool заменяет параметры пула целиком.
func WithPool(pool PoolConfig) Option {
	return func(c *PoolConfig) { *c = pool }
}

// Store хранит продажи, каталог, outbox и ключи идемпотентности в PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN через pgx, открывает пул и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = applicationName
	}

	pool := DefaultPoolConfig()
	for _, option := range options {
		option(&pool)
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin открывает SERIALIZABLE-транзакцию; чтения товаров и продаж блокируют строки.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	return s.begin(ctx, sql.TxOptions{Isolation: sql.LevelSerializable})
}

// BeginReadOnly открывает read-only транзакцию со снимком на момент первого запроса.
func (s *Store) BeginReadOnly(ctx context.Context) (domain.Tx, error) {
	return s.begin(ctx, sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (s *Store) begin(ctx context.Context, opts sql.TxOptions) (domain.Tx, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotInitialized
	}
	sqlTx, err := s.db.BeginTx(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("begin postgres transaction: %w", err)
	}
	return &tx{tx: sqlTx, readOnly: opts.ReadOnly}, nil
}

// Ping используется health-проверкой хранилища.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все новые миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул; для nil-store ничего не делает.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.Store = (*Store)(nil)
