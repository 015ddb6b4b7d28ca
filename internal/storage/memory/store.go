package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// Store — in-memory хранилище каталога, клиентов и продаж для локальной разработки и тестов.
// Транзакции оптимистичные: записи копятся в Tx и применяются в Commit после
// проверки версий всего, что транзакция прочитала.
type Store struct {
	mu            sync.RWMutex
	customers     map[string]domain.Customer
	products      map[string]domain.Product
	sales         map[string]domain.Sale
	lieferscheine map[string]string

	outbox *OutboxRepository
	now    func() time.Time
}

// NewStore создаёт пустое хранилище со своим outbox.
func NewStore() *Store {
	return &Store{
		customers:     make(map[string]domain.Customer),
		products:      make(map[string]domain.Product),
		sales:         make(map[string]domain.Sale),
		lieferscheine: make(map[string]string),
		outbox:        NewOutboxRepository(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Outbox возвращает outbox, в который попадают события зафиксированных транзакций.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// PutCustomer добавляет или заменяет клиента.
func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

// PutProduct добавляет или заменяет товар; версия увеличивается.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.products[product.ID]; ok {
		product.Version = current.Version + 1
	} else if product.Version == 0 {
		product.Version = 1
	}
	product.UpdatedAt = s.now()
	s.products[product.ID] = product
}

// Product возвращает зафиксированное состояние товара.
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// Sale возвращает зафиксированное состояние продажи.
func (s *Store) Sale(id string) (domain.Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return domain.Sale{}, false
	}
	return sale.Clone(), true
}

// SaleCount возвращает число зафиксированных продаж.
func (s *Store) SaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sales)
}

// Begin открывает транзакцию.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s, false), nil
}

// BeginReadOnly открывает транзакцию, в которой запрещены записи.
func (s *Store) BeginReadOnly(ctx context.Context) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s, true), nil
}

// commit проверяет read set транзакции и применяет её записи под одной блокировкой.
func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range t.productReads {
		current, ok := s.products[id]
		if !ok || current.Version != version {
			return domain.ErrWriteConflict
		}
	}
	for id, version := range t.saleReads {
		current, ok := s.sales[id]
		if !ok || current.Version != version {
			return domain.ErrWriteConflict
		}
	}
	for _, sale := range t.inserted {
		if _, ok := s.sales[sale.ID]; ok {
			return domain.ErrWriteConflict
		}
		if _, ok := s.lieferscheine[sale.Lieferschein]; ok {
			return domain.ErrWriteConflict
		}
	}

	now := s.now()
	for id, product := range t.products {
		product.UpdatedAt = now
		s.products[id] = product
	}
	for _, sale := range t.inserted {
		s.sales[sale.ID] = sale
		s.lieferscheine[sale.Lieferschein] = sale.ID
	}
	for id, sale := range t.updated {
		s.sales[id] = sale
	}
	for id := range t.deleted {
		// Номер накладной остаётся занятым и после удаления продажи.
		delete(s.sales, id)
	}

	for _, msg := range t.outbox {
		if _, err := s.outbox.Enqueue(msg); err != nil {
			return err
		}
	}
	return nil
}

func sortSalesNewestFirst(sales []domain.Sale) {
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.After(sales[j].CreatedAt)
		}
		return sales[i].ID > sales[j].ID
	})
}

var _ domain.Store = (*Store)(nil)
