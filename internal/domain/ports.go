package domain

import (
	"context"
	"time"
)

// Store открывает транзакционные единицы работы над каталогом, клиентами и продажами.
type Store interface {
	// Begin начинает транзакцию. Все чтения и записи через Tx видят один и тот же снимок данных.
	Begin(ctx context.Context) (Tx, error)
	// BeginReadOnly начинает транзакцию только для чтения, без блокировок строк.
	BeginReadOnly(ctx context.Context) (Tx, error)
}

// Tx — активная транзакция хранилища. После Commit или Rollback использовать её нельзя.
type Tx interface {
	CustomerDirectory
	ProductLedger
	SaleRepository

	// EnqueueOutbox сохраняет событие в transactional outbox в рамках той же транзакции.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// Commit фиксирует транзакцию. ErrWriteConflict означает, что единицу работы можно повторить.
	Commit() error
	// Rollback откатывает все изменения. Повторный вызов после Commit безопасен.
	Rollback() error
}

// CustomerDirectory — чтение справочника клиентов.
type CustomerDirectory interface {
	// GetCustomer возвращает клиента или ErrCustomerNotFound.
	GetCustomer(ctx context.Context, id string) (Customer, error)
}

// ProductLedger — чтение товаров и изменение их остатков.
type ProductLedger interface {
	// GetProduct читает товар; в SQL-хранилище строка блокируется до конца транзакции.
	GetProduct(ctx context.Context, id string) (Product, error)
	// AdjustStock прибавляет к остатку знаковую дельту и возвращает обновлённый товар.
	// Если остаток ушёл бы в минус, возвращает ErrInsufficientStock и ничего не меняет.
	AdjustStock(ctx context.Context, productID string, delta int) (Product, error)
}

// LieferscheinChecker проверяет занятость номера накладной.
type LieferscheinChecker interface {
	LieferscheinExists(ctx context.Context, number string) (bool, error)
}

// SaleRepository описывает требования к хранилищу продаж.
type SaleRepository interface {
	LieferscheinChecker

	// GetSale возвращает продажу по идентификатору или ErrSaleNotFound.
	GetSale(ctx context.Context, id string) (Sale, error)
	// ListSales возвращает продажи от новых к старым; limit <= 0 означает без ограничения.
	ListSales(ctx context.Context, limit int) ([]Sale, error)
	// InsertSale сохраняет новую продажу. Повтор номера Lieferschein даёт ErrWriteConflict.
	InsertSale(ctx context.Context, sale Sale) error
	// UpdateSale перезаписывает продажу с учётом optimistic locking по Version.
	UpdateSale(ctx context.Context, sale Sale) error
	// DeleteSale удаляет продажу без каких-либо компенсаций по складу.
	DeleteSale(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository — сторона outbox, которую читает воркер публикации.
type OutboxRepository interface {
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
