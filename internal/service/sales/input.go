package sales

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/stock"
)

// ItemInput — позиция в запросе на создание или изменение продажи.
type ItemInput struct {
	ProductID string
	Quantity  int
	// Если UnitPrice nil, берётся текущая цена товара.
	UnitPrice *decimal.Decimal
}

// CreateSaleInput — запрос на создание продажи.
type CreateSaleInput struct {
	CustomerID string
	Items      []ItemInput
	// nil означает налог 0
	TaxPercent *decimal.Decimal
	// пустой статус заменяется на DefaultSaleStatus
	Status domain.SaleStatus
	Meta   map[string]any
}

// UpdateSaleInput — запрос на изменение продажи.
type UpdateSaleInput struct {
	Status domain.SaleStatus
	// Items nil — позиции не меняются; пустой не-nil срез — ошибка валидации.
	Items []ItemInput
	// Meta nil — метаданные не меняются.
	Meta map[string]any
}

func (in CreateSaleInput) normalize() (CreateSaleInput, error) {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if in.CustomerID == "" {
		return in, domain.ErrCustomerRequired
	}
	if in.Status == "" {
		in.Status = domain.DefaultSaleStatus
	}
	if !in.Status.Valid() {
		return in, fmt.Errorf("%w: %q", domain.ErrStatusInvalid, in.Status)
	}
	if in.TaxPercent != nil && in.TaxPercent.IsNegative() {
		return in, domain.ErrTaxPercentInvalid
	}
	items, err := normalizeItems(in.Items)
	if err != nil {
		return in, err
	}
	in.Items = items
	return in, nil
}

func (in CreateSaleInput) taxPercent() decimal.Decimal {
	if in.TaxPercent == nil {
		return decimal.Zero
	}
	return *in.TaxPercent
}

func (in UpdateSaleInput) normalize() (UpdateSaleInput, error) {
	if !in.Status.Valid() {
		return in, fmt.Errorf("%w: %q", domain.ErrStatusInvalid, in.Status)
	}
	if in.Items == nil {
		return in, nil
	}
	items, err := normalizeItems(in.Items)
	if err != nil {
		return in, err
	}
	in.Items = items
	return in, nil
}

func normalizeItems(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	out := make([]ItemInput, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d has no productId", domain.ErrValidation, i)
		}
		if item.Quantity <= 0 || item.Quantity > stock.MaxQuantity {
			return nil, fmt.Errorf("%w: item %d (%s)", domain.ErrItemQtyInvalid, i, item.ProductID)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %d (%s)", domain.ErrItemPriceInvalid, i, item.ProductID)
		}
		out = append(out, item)
	}
	return out, nil
}

// itemsFromLines восстанавливает позиции запроса из сохранённых строк продажи
// вместе с зафиксированными ценами.
func itemsFromLines(lines []domain.SaleLine) []ItemInput {
	items := make([]ItemInput, 0, len(lines))
	for _, line := range lines {
		price := line.UnitPrice
		items = append(items, ItemInput{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: &price})
	}
	return items
}

func stockState(status domain.SaleStatus, items []ItemInput) stock.State {
	lines := make([]stock.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, stock.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return stock.State{Paid: status.Paid(), Lines: lines}
}
