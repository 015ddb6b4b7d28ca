// Package stock сводит остатки товаров при создании и изменении продаж.
package stock

import (
	"context"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// Line — количество товара в одной позиции продажи.
type Line struct {
	ProductID string
	Quantity  int
}

// State — позиции продажи и признак того, что товар по ним списан со склада.
type State struct {
	Paid  bool
	Lines []Line
}

// StateOf строит State по сохранённой продаже.
func StateOf(sale domain.Sale) State {
	lines := make([]Line, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		lines = append(lines, Line{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return State{Paid: sale.Status.Paid(), Lines: lines}
}

// MaxQuantity — предел количества одного товара в продаже, совпадает с
// диапазоном INTEGER колонок quantity и stock.
const MaxQuantity = math.MaxInt32

func (s State) quantities() (map[string]int, error) {
	out := make(map[string]int, len(s.Lines))
	for _, line := range s.Lines {
		sum := out[line.ProductID]
		if line.Quantity < 0 || line.Quantity > MaxQuantity-sum {
			return nil, fmt.Errorf("%w: product %s quantity exceeds %d", domain.ErrItemQtyInvalid, line.ProductID, MaxQuantity)
		}
		out[line.ProductID] = sum + line.Quantity
	}
	return out, nil
}

// Delta — изменение остатка одного товара. Положительное значение возвращает
// товар на склад, отрицательное списывает.
type Delta struct {
	ProductID string
	Delta     int
	// Proposed — товар присутствует в новых позициях и обязан существовать.
	Proposed bool
}

// Plan считает чистую дельту по каждому товару, упомянутому в prev или next.
// Результат отсортирован по ProductID. Суммарное количество товара в одном
// состоянии не может превышать MaxQuantity.
func Plan(prev, next State) ([]Delta, error) {
	prevQty, err := prev.quantities()
	if err != nil {
		return nil, err
	}
	nextQty, err := next.quantities()
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*Delta, len(prevQty)+len(nextQty))
	get := func(id string) *Delta {
		d, ok := byProduct[id]
		if !ok {
			d = &Delta{ProductID: id}
			byProduct[id] = d
		}
		return d
	}

	for id, qty := range prevQty {
		d := get(id)
		if prev.Paid {
			d.Delta += qty
		}
	}
	for id, qty := range nextQty {
		d := get(id)
		d.Proposed = true
		if next.Paid {
			d.Delta -= qty
		}
	}

	out := make([]Delta, 0, len(byProduct))
	for _, d := range byProduct {
		if d.Delta == 0 && !d.Proposed {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// MovementRecorder учитывает перемещённые единицы товара.
type MovementRecorder interface {
	RecordStockMovement(delta int)
}

// Adjuster применяет план к остаткам в рамках транзакции.
type Adjuster struct {
	logger  *log.Entry
	metrics MovementRecorder
}

// NewAdjuster создаёт Adjuster; metrics может быть nil.
func NewAdjuster(logger *log.Entry, metrics MovementRecorder) *Adjuster {
	if logger == nil {
		logger = log.New().WithField("component", "stock-adjuster")
	}
	return &Adjuster{logger: logger, metrics: metrics}
}

// Apply загружает каждый товар плана, проверяет, что ни один остаток не уйдёт
// в минус, и только после этого применяет дельты. Возвращает актуальные товары
// по идентификатору. При ошибке ни одна дельта не применяется этим вызовом;
// откат уже сделанных записей остаётся за транзакцией.
func (a *Adjuster) Apply(ctx context.Context, ledger domain.ProductLedger, plan []Delta) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(plan))

	for _, d := range plan {
		product, err := ledger.GetProduct(ctx, d.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", d.ProductID, err)
		}
		if product.Stock+d.Delta < 0 {
			a.logger.WithFields(log.Fields{
				"product_id": d.ProductID,
				"stock":      product.Stock,
				"requested":  -d.Delta,
			}).Info("insufficient stock")
			return nil, fmt.Errorf("%w: product %s has %d, needs %d", domain.ErrInsufficientStock, d.ProductID, product.Stock, -d.Delta)
		}
		products[d.ProductID] = product
	}

	for _, d := range plan {
		if d.Delta == 0 {
			continue
		}
		updated, err := ledger.AdjustStock(ctx, d.ProductID, d.Delta)
		if err != nil {
			return nil, fmt.Errorf("adjust stock of %s by %d: %w", d.ProductID, d.Delta, err)
		}
		products[d.ProductID] = updated
		if a.metrics != nil {
			a.metrics.RecordStockMovement(d.Delta)
		}
	}

	return products, nil
}
