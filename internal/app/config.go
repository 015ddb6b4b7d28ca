package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Драйверы хранилища продаж.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Хранилища ключей идемпотентности. Пустое значение — то же, что и хранилище продаж.
const (
	IdempotencyBackendStorage  = ""
	IdempotencyBackendMemory   = "memory"
	IdempotencyBackendPostgres = "postgres"
	IdempotencyBackendRedis    = "redis"
)

// Переменные окружения sales-service.
const (
	EnvHTTPAddr                    = "SALES_HTTP_ADDR"
	EnvGRPCAddr                    = "SALES_GRPC_ADDR"
	EnvMetricsAddr                 = "SALES_METRICS_ADDR"
	EnvStorageDriver               = "SALES_STORAGE_DRIVER"
	EnvPostgresDSN                 = "SALES_POSTGRES_DSN"
	EnvPostgresAutoMigrate         = "SALES_POSTGRES_AUTO_MIGRATE"
	EnvRedisAddr                   = "SALES_REDIS_ADDR"
	EnvRedisPassword               = "SALES_REDIS_PASSWORD"
	EnvRedisDB                     = "SALES_REDIS_DB"
	EnvIdempotencyBackend          = "SALES_IDEMPOTENCY_BACKEND"
	EnvIdempotencyTTL              = "SALES_IDEMPOTENCY_TTL"
	EnvIdempotencyCleanupInterval  = "SALES_IDEMPOTENCY_CLEANUP_INTERVAL"
	EnvIdempotencyCleanupBatchSize = "SALES_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	EnvKafkaBrokers                = "SALES_KAFKA_BROKERS"
	EnvKafkaClientID               = "SALES_KAFKA_CLIENT_ID"
	EnvKafkaTopic                  = "SALES_KAFKA_TOPIC"
	EnvKafkaDLQTopic               = "SALES_KAFKA_DLQ_TOPIC"
	EnvOutboxPollInterval          = "SALES_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize             = "SALES_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts           = "SALES_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay            = "SALES_OUTBOX_RETRY_DELAY"
	EnvOutboxMaxPending            = "SALES_OUTBOX_MAX_PENDING"
	EnvLieferscheinAttempts        = "SALES_LIEFERSCHEIN_ATTEMPTS"
	EnvTxRetryAttempts             = "SALES_TX_RETRY_ATTEMPTS"
	EnvDefaultTaxPercent           = "SALES_DEFAULT_TAX_PERCENT"
)

// Config описывает настройки запуска sales-service.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IdempotencyBackend          string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// Список брокеров через запятую; пусто — события пишутся только в лог.
	KafkaBrokers  string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// Порог backlog для health; 0 отключает проверку.
	OutboxMaxPending int

	LieferscheinAttempts int
	TxRetryAttempts      int
	// Процент налога, если у изменяемой продажи не было подытога. Строка, чтобы Config оставался comparable.
	DefaultTaxPercent string
}

// DefaultConfig возвращает настройки для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		RedisAddr: "localhost:6379",

		IdempotencyBackend:          IdempotencyBackendStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		KafkaClientID: "sales-service",
		KafkaTopic:    "sales.events",
		KafkaDLQTopic: "sales.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,

		LieferscheinAttempts: 10,
		TxRetryAttempts:      3,
		DefaultTaxPercent:    "10",
	}
}

// TaxPercent разбирает DefaultTaxPercent; некорректное значение даёт 10%.
func (c Config) TaxPercent() decimal.Decimal {
	percent, err := decimal.NewFromString(strings.TrimSpace(c.DefaultTaxPercent))
	if err != nil || percent.IsNegative() {
		return decimal.NewFromInt(10)
	}
	return percent
}

// Brokers разбивает KafkaBrokers на адреса.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// ResolvedIdempotencyBackend возвращает фактическое хранилище ключей идемпотентности.
func (c Config) ResolvedIdempotencyBackend() string {
	if c.IdempotencyBackend == IdempotencyBackendStorage {
		return c.StorageDriver
	}
	return c.IdempotencyBackend
}

type envLookup func(key string) (string, bool)

// LoadConfig читает конфигурацию из окружения. Некорректные значения
// заменяются значениями по умолчанию и возвращаются как предупреждения.
func LoadConfig() (Config, []string) {
	return ReadConfigFromEnv(os.LookupEnv)
}

// ReadConfigFromEnv работает как LoadConfig, но читает переменные через lookup.
func ReadConfigFromEnv(lookup envLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", key, value, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }

	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvGRPCAddr, &cfg.GRPCAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)

	str(EnvStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(EnvPostgresDSN, &cfg.PostgresDSN)
	boolean(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(EnvRedisAddr, &cfg.RedisAddr)
	str(EnvRedisPassword, &cfg.RedisPassword)
	integer(EnvRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")

	str(EnvIdempotencyBackend, &cfg.IdempotencyBackend)
	cfg.IdempotencyBackend = strings.ToLower(cfg.IdempotencyBackend)
	duration(EnvIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(EnvIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(EnvIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	str(EnvKafkaBrokers, &cfg.KafkaBrokers)
	str(EnvKafkaClientID, &cfg.KafkaClientID)
	str(EnvKafkaTopic, &cfg.KafkaTopic)
	str(EnvKafkaDLQTopic, &cfg.KafkaDLQTopic)

	duration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(EnvOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	integer(EnvOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	integer(EnvLieferscheinAttempts, &cfg.LieferscheinAttempts, positive, "must be > 0")
	integer(EnvTxRetryAttempts, &cfg.TxRetryAttempts, positive, "must be > 0")
	if v, ok := lookup(EnvDefaultTaxPercent); ok && strings.TrimSpace(v) != "" {
		percent, err := decimal.NewFromString(strings.TrimSpace(v))
		switch {
		case err != nil:
			warn(EnvDefaultTaxPercent, v, err)
		case percent.IsNegative():
			warn(EnvDefaultTaxPercent, v, fmt.Errorf("must be >= 0"))
		default:
			cfg.DefaultTaxPercent = percent.String()
		}
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected one of true/false/yes/no/on/off/1/0")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}
