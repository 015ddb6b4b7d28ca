package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — позиция каталога. Ядро продаж изменяет только Stock.
type Product struct {
	ID            string
	Name          string
	Location      string
	ArticleNumber string
	Description   string
	Stock         int
	Price         decimal.Decimal
	Version       int64
	UpdatedAt     time.Time
}

// Customer — запись справочника клиентов.
type Customer struct {
	ID        string
	Name      string
	FirstName string
	Email     string
	Address   string
	Phone     string
}

// Snapshot фиксирует контакты клиента для вложения в продажу.
func (c Customer) Snapshot() CustomerSnapshot {
	return CustomerSnapshot{
		Name:  c.Name,
		Email: c.Email,
		Phone: c.Phone,
	}
}
