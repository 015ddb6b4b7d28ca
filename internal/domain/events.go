package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AggregateTypeSale — тип агрегата продаж в outbox.
const AggregateTypeSale = "sale"

// SaleEventType — тип события продажи.
type SaleEventType string

const (
	SaleEventCreated SaleEventType = "sale.created"
	SaleEventUpdated SaleEventType = "sale.updated"
	SaleEventDeleted SaleEventType = "sale.deleted"
)

// SaleEventLine — позиция продажи в событии.
type SaleEventLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// SaleEvent — payload outbox-события по продаже. Суммы передаются строками с двумя знаками.
type SaleEvent struct {
	EventType      SaleEventType   `json:"event_type"`
	SaleID         string          `json:"sale_id"`
	CustomerID     string          `json:"customer_id"`
	Lieferschein   string          `json:"lieferschein"`
	Status         SaleStatus      `json:"status"`
	PreviousStatus SaleStatus      `json:"previous_status,omitempty"`
	Lines          []SaleEventLine `json:"lines,omitempty"`
	Subtotal       string          `json:"subtotal"`
	Tax            string          `json:"tax"`
	Total          string          `json:"total"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewSaleEvent строит событие по состоянию продажи.
func NewSaleEvent(eventType SaleEventType, sale Sale, previous SaleStatus, at time.Time) SaleEvent {
	lines := make([]SaleEventLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		lines = append(lines, SaleEventLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			LineTotal: line.LineTotal.StringFixed(2),
		})
	}
	return SaleEvent{
		EventType:      eventType,
		SaleID:         sale.ID,
		CustomerID:     sale.CustomerID,
		Lieferschein:   sale.Lieferschein,
		Status:         sale.Status,
		PreviousStatus: previous,
		Lines:          lines,
		Subtotal:       sale.Subtotal.StringFixed(2),
		Tax:            sale.Tax.StringFixed(2),
		Total:          sale.Total.StringFixed(2),
		OccurredAt:     at.UTC(),
	}
}

// OutboxMessage упаковывает событие для transactional outbox.
func (e SaleEvent) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", e.EventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateTypeSale,
		AggregateID:   e.SaleID,
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}
