package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus описывает жизненный цикл продажи.
type SaleStatus string

const (
	// SaleStatusPending — продажа оформлена, но не оплачена; склад не затронут.
	SaleStatusPending SaleStatus = "pending"
	// SaleStatusPaid — продажа оплачена; товары списаны со склада.
	SaleStatusPaid SaleStatus = "paid"
	// SaleStatusCancelled — продажа отменена; ранее списанные товары возвращены.
	SaleStatusCancelled SaleStatus = "cancelled"
)

// DefaultSaleStatus используется, если статус не передан при создании.
const DefaultSaleStatus = SaleStatusPaid

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusPending, SaleStatusPaid, SaleStatusCancelled:
		return true
	default:
		return false
	}
}

// Paid сообщает, держит ли продажа в этом статусе товар списанным со склада.
func (s SaleStatus) Paid() bool {
	return s == SaleStatusPaid
}

// CustomerSnapshot — копия контактов клиента на момент создания продажи.
// После создания не пересчитывается.
type CustomerSnapshot struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// SaleLine представляет одну позицию продажи.
type SaleLine struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Sale агрегирует продажу, её позиции и рассчитанные суммы.
type Sale struct {
	ID         string
	CustomerID string
	Customer   CustomerSnapshot
	Lines      []SaleLine
	Subtotal   decimal.Decimal
	// Tax — уже применённая сумма налога, а не процент.
	Tax          decimal.Decimal
	Total        decimal.Decimal
	Status       SaleStatus
	Lieferschein string
	Meta         map[string]any
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone возвращает глубокую копию продажи, чтобы хранилища не делили срезы и map с вызывающим кодом.
func (s Sale) Clone() Sale {
	dst := s
	dst.Lines = append([]SaleLine(nil), s.Lines...)
	if s.Meta != nil {
		dst.Meta = make(map[string]any, len(s.Meta))
		for k, v := range s.Meta {
			dst.Meta[k] = v
		}
	}
	return dst
}

// ProductIDs возвращает идентификаторы товаров позиций в порядке первого появления.
func (s Sale) ProductIDs() []string {
	seen := make(map[string]struct{}, len(s.Lines))
	ids := make([]string, 0, len(s.Lines))
	for _, line := range s.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// SaleDetails — продажа вместе со связанными клиентом и товарами для отображения.
type SaleDetails struct {
	Sale     Sale
	Customer *Customer
	Products map[string]Product
}
