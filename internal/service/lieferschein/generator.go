// Package lieferschein выдаёт номера накладных (Lieferschein) для продаж.
package lieferschein

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	// Prefix — фиксированный префикс всех номеров накладных.
	Prefix = "45020"

	defaultMaxAttempts = 10

	suffixMin  = 100000000
	suffixSpan = 900000000
)

// CollisionRecorder учитывает занятые номера, выпавшие при генерации.
type CollisionRecorder interface {
	RecordLieferscheinCollision()
}

// Options задаёт параметры генератора.
type Options struct {
	Logger      *log.Entry
	MaxAttempts int
	Metrics     CollisionRecorder
	// Suffix возвращает 9-значный суффикс; по умолчанию равномерно случайный.
	Suffix func() int64
}

// Option настраивает Generator.
type Option func(*Options)

// WithLogger задаёт logger генератора.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMaxAttempts задаёт число попыток подобрать свободный номер.
func WithMaxAttempts(attempts int) Option {
	return func(opts *Options) {
		opts.MaxAttempts = attempts
	}
}

// WithMetrics подключает учёт коллизий.
func WithMetrics(metrics CollisionRecorder) Option {
	return func(opts *Options) {
		opts.Metrics = metrics
	}
}

// WithSuffixSource подменяет источник суффиксов.
func WithSuffixSource(source func() int64) Option {
	return func(opts *Options) {
		opts.Suffix = source
	}
}

// Generator подбирает номер накладной, которого ещё нет в хранилище.
type Generator struct {
	logger      *log.Entry
	maxAttempts int
	metrics     CollisionRecorder
	suffix      func() int64
}

// NewGenerator создаёт генератор номеров.
func NewGenerator(options ...Option) *Generator {
	opts := Options{MaxAttempts: defaultMaxAttempts}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "lieferschein-generator")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Suffix == nil {
		opts.Suffix = randomSuffix
	}

	return &Generator{
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		suffix:      opts.Suffix,
	}
}

func randomSuffix() int64 {
	return suffixMin + rand.Int64N(suffixSpan)
}

// Format собирает номер из префикса и суффикса.
func Format(suffix int64) string {
	return Prefix + strconv.FormatInt(suffix, 10)
}

// Valid проверяет формат номера: префикс и ровно 9 цифр без ведущего нуля.
func Valid(number string) bool {
	if len(number) != len(Prefix)+9 || number[:len(Prefix)] != Prefix {
		return false
	}
	suffix := number[len(Prefix):]
	if suffix[0] == '0' {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Next возвращает свободный номер. Проверка занятости выполняется в той же
// транзакции, что и вставка продажи; окончательную уникальность обеспечивает хранилище.
func (g *Generator) Next(ctx context.Context, checker domain.LieferscheinChecker) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		number := Format(g.suffix())
		exists, err := checker.LieferscheinExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check lieferschein %s: %w", number, err)
		}
		if !exists {
			return number, nil
		}

		if g.metrics != nil {
			g.metrics.RecordLieferscheinCollision()
		}
		g.logger.WithFields(log.Fields{
			"lieferschein": number,
			"attempt":      attempt,
		}).Debug("lieferschein number already taken")
	}

	g.logger.WithField("max_attempts", g.maxAttempts).Warn("lieferschein generation exhausted")
	return "", domain.ErrGenerationExhausted
}
