package memory

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

type tx struct {
	store    *Store
	closed   bool
	readOnly bool

	// версии, увиденные транзакцией; проверяются в Commit
	productReads map[string]int64
	saleReads    map[string]int64

	products map[string]domain.Product
	inserted map[string]domain.Sale
	updated  map[string]domain.Sale
	deleted  map[string]struct{}
	outbox   []domain.OutboxMessage
}

func newTx(store *Store, readOnly bool) *tx {
	return &tx{
		store:        store,
		readOnly:     readOnly,
		productReads: make(map[string]int64),
		saleReads:    make(map[string]int64),
		products:     make(map[string]domain.Product),
		inserted:     make(map[string]domain.Sale),
		updated:      make(map[string]domain.Sale),
		deleted:      make(map[string]struct{}),
	}
}

func (t *tx) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if err := t.check(ctx); err != nil {
		return domain.Customer{}, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	customer, ok := t.store.customers[id]
	if !ok {
		return domain.Customer{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, id)
	}
	return customer, nil
}

func (t *tx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := t.check(ctx); err != nil {
		return domain.Product{}, err
	}
	if product, ok := t.products[id]; ok {
		return product, nil
	}

	t.store.mu.RLock()
	product, ok := t.store.products[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}

	if _, seen := t.productReads[id]; !seen {
		t.productReads[id] = product.Version
	}
	return product, nil
}

func (t *tx) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	if err := t.checkWrite(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := t.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.Stock+delta < 0 {
		return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrInsufficientStock, productID)
	}

	product.Stock += delta
	product.Version = t.productReads[productID] + 1
	t.products[productID] = product
	return product, nil
}

func (t *tx) LieferscheinExists(ctx context.Context, number string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	for _, sale := range t.inserted {
		if sale.Lieferschein == number {
			return true, nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.lieferscheine[number]
	return ok, nil
}

func (t *tx) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if err := t.check(ctx); err != nil {
		return domain.Sale{}, err
	}
	if _, ok := t.deleted[id]; ok {
		return domain.Sale{}, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	if sale, ok := t.inserted[id]; ok {
		return sale.Clone(), nil
	}
	if sale, ok := t.updated[id]; ok {
		return sale.Clone(), nil
	}

	t.store.mu.RLock()
	sale, ok := t.store.sales[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.Sale{}, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}

	if _, seen := t.saleReads[id]; !seen {
		t.saleReads[id] = sale.Version
	}
	return sale.Clone(), nil
}

func (t *tx) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	view := maps.Clone(t.store.sales)
	t.store.mu.RUnlock()

	maps.Copy(view, t.updated)
	maps.Copy(view, t.inserted)
	for id := range t.deleted {
		delete(view, id)
	}

	result := make([]domain.Sale, 0, len(view))
	for _, sale := range view {
		result = append(result, sale.Clone())
	}
	sortSalesNewestFirst(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	if _, ok := t.inserted[sale.ID]; ok {
		return domain.ErrWriteConflict
	}
	exists, err := t.LieferscheinExists(ctx, sale.Lieferschein)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrWriteConflict
	}

	if sale.Version == 0 {
		sale.Version = 1
	}
	t.inserted[sale.ID] = sale.Clone()
	return nil
}

func (t *tx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	current, err := t.GetSale(ctx, sale.ID)
	if err != nil {
		return err
	}
	if current.Version != sale.Version {
		return domain.ErrWriteConflict
	}

	sale.Version++
	if _, ok := t.inserted[sale.ID]; ok {
		t.inserted[sale.ID] = sale.Clone()
		return nil
	}
	t.updated[sale.ID] = sale.Clone()
	return nil
}

func (t *tx) DeleteSale(ctx context.Context, id string) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	if _, err := t.GetSale(ctx, id); err != nil {
		return err
	}
	if _, ok := t.inserted[id]; ok {
		delete(t.inserted, id)
		return nil
	}
	delete(t.updated, id)
	t.deleted[id] = struct{}{}
	return nil
}

func (t *tx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := t.checkWrite(ctx); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	t.outbox = append(t.outbox, msg)
	return msg, nil
}

func (t *tx) Commit() error {
	if t.closed {
		return domain.ErrTxClosed
	}
	t.closed = true
	if t.readOnly {
		return nil
	}
	return t.store.commit(t)
}

func (t *tx) Rollback() error {
	t.closed = true
	return nil
}

func (t *tx) check(ctx context.Context) error {
	if t.closed {
		return domain.ErrTxClosed
	}
	return ctx.Err()
}

var _ domain.Tx = (*tx)(nil)

func (t *tx) checkWrite(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if t.readOnly {
		return domain.ErrTxReadOnly
	}
	return nil
}
