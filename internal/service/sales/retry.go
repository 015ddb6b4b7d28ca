package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// RetryConfig — повтор единицы работы после конфликта записи.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// inTx выполняет fn в транзакции и повторяет всю единицу работы, пока хранилище
// сообщает о конфликте записи. Любая ошибка fn откатывает транзакцию.
func (s *Service) inTx(ctx context.Context, operation string, fn func(tx domain.Tx) error) error {
	delay := s.retry.InitialDelay

	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, fn)
		if err == nil {
			if attempt > 1 {
				s.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("sale transaction succeeded after retry")
			}
			return nil
		}

		if !domain.IsWriteConflict(err) {
			return err
		}
		if attempt >= s.retry.MaxAttempts {
			s.logger.WithError(err).WithFields(log.Fields{
				"operation":    operation,
				"max_attempts": s.retry.MaxAttempts,
			}).Error("sale transaction failed after all retry attempts")
			return fmt.Errorf("%s: %w", operation, err)
		}

		s.metrics.RecordTxRetry()
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("sale transaction conflicted, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}
}

func (s *Service) attempt(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, domain.ErrTxClosed) {
			s.logger.WithError(rbErr).Warn("failed to rollback sale transaction")
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
