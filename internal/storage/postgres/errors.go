package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const opTimeout = 5 * time.Second

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

// asWriteConflict переводит ошибки конкурентного доступа PostgreSQL в domain.ErrWriteConflict,
// чтобы оркестратор мог повторить единицу работы.
func asWriteConflict(op string, err error) error {
	if err == nil {
		return nil
	}
	switch pgErrorCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrWriteConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
