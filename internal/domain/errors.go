package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — некорректный или неполный входной запрос.
	ErrValidation = errors.New("validation failed")
	// ErrCustomerRequired — не передан идентификатор клиента.
	ErrCustomerRequired = fmt.Errorf("%w: customerId is required", ErrValidation)
	// ErrItemsRequired — продажа должна содержать хотя бы одну позицию.
	ErrItemsRequired = fmt.Errorf("%w: sale must contain at least one item", ErrValidation)
	// ErrItemQtyInvalid — количество в позиции должно быть в диапазоне 1..2^31-1.
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be between 1 and 2147483647", ErrValidation)
	// ErrItemPriceInvalid — цена позиции не может быть отрицательной.
	ErrItemPriceInvalid = fmt.Errorf("%w: item unit price must be non-negative", ErrValidation)
	// ErrTaxPercentInvalid — процент налога не может быть отрицательным.
	ErrTaxPercentInvalid = fmt.Errorf("%w: tax percent must be non-negative", ErrValidation)
	// ErrStatusInvalid — статус вне множества pending/paid/cancelled.
	ErrStatusInvalid = fmt.Errorf("%w: invalid sale status", ErrValidation)

	// ErrCustomerNotFound возвращается, если клиент не найден в справочнике.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrSaleNotFound возвращается, если продажа не найдена.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrInsufficientStock — списание увело бы остаток товара в минус.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrGenerationExhausted — не удалось подобрать уникальный номер Lieferschein за отведённые попытки.
	ErrGenerationExhausted = errors.New("could not generate a unique lieferschein number")

	// ErrWriteConflict — конкурентная транзакция изменила те же данные; единицу работы можно повторить.
	ErrWriteConflict = errors.New("write conflict")
	// ErrTxClosed — транзакция уже зафиксирована или откатена.
	ErrTxClosed = errors.New("transaction already closed")
	// ErrTxReadOnly — запись в транзакции, открытой только для чтения.
	ErrTxReadOnly = errors.New("transaction is read-only")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же hash запроса.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
)

// IsWriteConflict проверяет, является ли ошибка конфликтом записи.
func IsWriteConflict(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}

// IsNotFound объединяет все ошибки отсутствующих сущностей.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}

// IsBusinessRule объединяет ошибки, которые клиент может исправить сам (HTTP 400).
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrGenerationExhausted)
}
