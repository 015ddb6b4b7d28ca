// Package outbox публикует события продаж из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultDrainTimeout   = 2 * time.Second
	maxRetryDelay         = 5 * time.Second

	// полных батчей подряд до паузы на тик
	maxCatchUpBatches = 10
)

var (
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_outbox_publish_total",
		Help: "Outbox publish attempts by sale event type and result.",
	}, []string{"event_type", "result"})
	pendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sales_outbox_pending_messages",
		Help: "Pending messages in the sales outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sales_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending sales outbox message.",
	})
)

// Config задаёт параметры Worker.
type Config struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	// Сколько Run дочищает outbox после отмены ctx; 0 отключает дочистку.
	DrainTimeout time.Duration
}

// Option настраивает Worker.
type Option func(*Config)

func WithLogger(logger *log.Entry) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithDLQPublisher задаёт получателя событий, которые не удалось опубликовать.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *Config) { c.DLQPublisher = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) { c.PollInterval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(c *Config) { c.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(c *Config) { c.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается до maxRetryDelay.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *Config) { c.RetryBaseDelay = delay }
}

func WithDrainTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.DrainTimeout = timeout }
}

// Worker переносит pending-события продаж из outbox в брокер.
// Событие помечается sent только после подтверждения брокера: доставка at-least-once,
// события одной продажи уходят в порядке записи.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	logger    *log.Entry
	cfg       Config
}

// BatchResult описывает один проход ProcessOnce.
type BatchResult struct {
	Sent   int
	Failed int
}

func (r BatchResult) processed() int { return r.Sent + r.Failed }

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := Config{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		DrainTimeout:   defaultDrainTimeout,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	cfg.RetryBaseDelay = max(cfg.RetryBaseDelay, 0)
	cfg.DrainTimeout = max(cfg.DrainTimeout, 0)

	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}

	return &Worker{repo: repo, publisher: publisher, logger: logger, cfg: cfg}
}

// Run опрашивает outbox раз в PollInterval. Полный батч обрабатывается следующим
// сразу, без ожидания тика. После отмены ctx Run дочищает outbox не дольше DrainTimeout.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: repository or publisher is missing")
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for range maxCatchUpBatches {
			if w.ProcessOnce(ctx).processed() < w.cfg.BatchSize || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
		}
	}
}

// drain публикует то, что успели закоммитить перед остановкой.
func (w *Worker) drain() {
	if w.cfg.DrainTimeout == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()

	total := BatchResult{}
	for ctx.Err() == nil {
		result := w.ProcessOnce(ctx)
		total.Sent += result.Sent
		total.Failed += result.Failed
		if result.processed() < w.cfg.BatchSize {
			break
		}
	}
	if total.processed() > 0 {
		w.logger.WithFields(log.Fields{"sent": total.Sent, "failed": total.Failed}).Info("outbox drained on shutdown")
	}
}

// ProcessOnce забирает один батч pending-событий и публикует их по порядку.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.observeBacklog()

	events, err := w.repo.PullPending(w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	for _, event := range events {
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"sale_id":    event.AggregateID,
			"event_type": event.EventType,
		})

		err := w.publish(ctx, event)
		if err != nil && ctx.Err() != nil {
			// событие остаётся pending до следующего запуска
			break
		}

		if err == nil {
			result.Sent++
			if err := w.repo.MarkSent(event.ID); err != nil {
				entry.WithError(err).Warn("failed to mark outbox message as sent")
			}
			continue
		}

		result.Failed++
		publishTotal.WithLabelValues(event.EventType, "failed").Inc()
		entry.WithError(err).Error("sale event was not published")
		if err := w.deadLetter(event, err); err != nil {
			publishTotal.WithLabelValues(event.EventType, "dlq_failed").Inc()
			entry.WithError(err).Warn("failed to publish sale event to DLQ")
		}
		if err := w.repo.MarkFailed(event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox message as failed")
		}
	}

	if result.processed() > 0 {
		w.logger.WithFields(log.Fields{"sent": result.Sent, "failed": result.Failed}).Debug("outbox batch processed")
	}
	return result
}

// publish делает до MaxAttempts попыток с экспоненциальной паузой.
func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(event); err == nil {
			publishTotal.WithLabelValues(event.EventType, "sent").Inc()
			return nil
		}
		publishTotal.WithLabelValues(event.EventType, "retry_error").Inc()

		if attempt == w.cfg.MaxAttempts {
			return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, attempt, err)
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// retryBackoff возвращает паузу после попытки attempt: base, 2*base, 4*base... не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	delay := w.cfg.RetryBaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to read outbox stats")
		return
	}

	pendingMessages.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	oldestPendingAge.Set(age)
}

// deadLetter — тело DLQ-сообщения: исходное событие продажи и причина отказа.
type deadLetter struct {
	OutboxID     string          `json:"outbox_id"`
	SaleID       string          `json:"sale_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	PublishError string          `json:"publish_error"`
	FailedAt     time.Time       `json:"failed_at"`
}

func (w *Worker) deadLetter(event domain.OutboxMessage, cause error) error {
	if w.cfg.DLQPublisher == nil {
		return nil
	}

	body, err := json.Marshal(deadLetter{
		OutboxID:     event.ID,
		SaleID:       event.AggregateID,
		EventType:    event.EventType,
		Payload:      json.RawMessage(event.Payload),
		PublishError: cause.Error(),
		FailedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := event
	letter.Payload = body
	return w.cfg.DLQPublisher.Publish(letter)
}
