package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	defaultCleanupInterval   = 10 * time.Minute
	defaultCleanupBatchSize  = 500
	defaultCleanupMaxBatches = 20
	// пауза перед следующим проходом, если предыдущий упёрся в лимит порций
	drainDelay = time.Second
)

var (
	cleanupSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_idempotency_cleanup_sweeps_total",
		Help: "Idempotency key cleanup sweeps by result (ok, truncated, error).",
	}, []string{"result"})
	cleanupDeletedKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_idempotency_cleanup_deleted_keys_total",
		Help: "Expired idempotency keys removed by the cleanup worker.",
	})
	cleanupSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sales_idempotency_cleanup_sweep_duration_seconds",
		Help:    "Duration of one idempotency cleanup sweep.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	})
)

// CleanupOptions задаёт параметры CleanupWorker.
type CleanupOptions struct {
	Logger     *log.Entry
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Clock      func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithMaxBatches ограничивает число порций за один проход, чтобы большой
// хвост просроченных ключей не держал базу одним длинным циклом.
func WithMaxBatches(maxBatches int) CleanupOption {
	return func(opts *CleanupOptions) { opts.MaxBatches = maxBatches }
}

func WithCleanupClock(clock func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) { opts.Clock = clock }
}

// SweepResult описывает один проход очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// Truncated: проход остановлен по лимиту порций, просроченные ключи ещё остались.
	Truncated bool
}

// CleanupWorker удаляет ключи идемпотентности с истёкшим ttl.
// Для Redis не запускается: там ключи истекают сами.
type CleanupWorker struct {
	repo   domain.IdempotencyRepository
	logger *log.Entry
	opts   CleanupOptions
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = defaultCleanupMaxBatches
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup")
	}

	return &CleanupWorker{repo: repo, logger: logger, opts: opts}
}

// Run чистит ключи сразу после старта и затем раз в Interval, пока не отменён ctx.
// Если проход упёрся в MaxBatches, следующий начинается почти сразу.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := w.opts.Interval
		result, err := w.Sweep(ctx, time.Time{})
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			w.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency cleanup failed")
		case result.Truncated:
			next = drainDelay
			w.logger.WithField("deleted", result.Deleted).Info("idempotency cleanup truncated, continuing shortly")
		case result.Deleted > 0:
			w.logger.WithField("deleted", result.Deleted).Info("idempotency cleanup completed")
		}
		timer.Reset(next)
	}
}

// Sweep удаляет ключи с ttl <= before порциями BatchSize, не больше MaxBatches порций.
// Нулевой before означает текущее время.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (result SweepResult, err error) {
	if before.IsZero() {
		before = w.opts.Clock()
	}

	started := time.Now()
	defer func() {
		cleanupSweepDuration.Observe(time.Since(started).Seconds())
		cleanupDeletedKeysTotal.Add(float64(result.Deleted))
		switch {
		case err != nil:
			cleanupSweepsTotal.WithLabelValues("error").Inc()
		case result.Truncated:
			cleanupSweepsTotal.WithLabelValues("truncated").Inc()
		default:
			cleanupSweepsTotal.WithLabelValues("ok").Inc()
		}
	}()

	for result.Batches < w.opts.MaxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.opts.BatchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += deleted

		if deleted < w.opts.BatchSize {
			return result, nil
		}
	}

	result.Truncated = true
	return result, nil
}
