package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/lieferschein"
	"github.com/vladislavdragonenkov/salesledger/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type recordingMetrics struct {
	mu         sync.Mutex
	results    map[string]int
	retries    int
	collisions int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{results: make(map[string]int)}
}

func (m *recordingMetrics) RecordOperationStarted() {}
func (m *recordingMetrics) RecordOperationFinished(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[op+"/"+result]++
}
func (m *recordingMetrics) RecordTxRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}
func (m *recordingMetrics) RecordLieferscheinCollision() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collisions++
}
func (m *recordingMetrics) RecordStockMovement(int) {}

type SalesServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	metrics *recordingMetrics
	service *Service
}

func TestSalesServiceSuite(t *testing.T) {
	suite.Run(t, new(SalesServiceSuite))
}

func (s *SalesServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.store.PutCustomer(domain.Customer{ID: "C", Name: "Becker", FirstName: "Jonas", Email: "jonas@example.com", Phone: "0301234"})
	s.store.PutProduct(domain.Product{ID: "P", Name: "Holzleim", Stock: 5, Price: dec("20.00")})
	s.store.PutProduct(domain.Product{ID: "Q", Name: "Pinsel", Stock: 10, Price: dec("3.50")})
	s.metrics = newRecordingMetrics()
	s.service = NewService(s.store, WithMetrics(s.metrics), WithRetryConfig(RetryConfig{MaxAttempts: 3}))
}

func (s *SalesServiceSuite) stockOf(id string) int {
	product, ok := s.store.Product(id)
	s.Require().True(ok)
	return product.Stock
}

func (s *SalesServiceSuite) createPaid(qty int) domain.Sale {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: qty}},
		TaxPercent: decPtr("10"),
		Status:     domain.SaleStatusPaid,
	})
	s.Require().NoError(err)
	return details.Sale
}

func (s *SalesServiceSuite) TestCreatePaidSale() {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 3}},
		TaxPercent: decPtr("10"),
		Status:     domain.SaleStatusPaid,
		Meta:       map[string]any{"channel": "shop"},
	})
	s.Require().NoError(err)

	sale := details.Sale
	s.Equal("60.00", sale.Subtotal.StringFixed(2))
	s.Equal("6.00", sale.Tax.StringFixed(2))
	s.Equal("66.00", sale.Total.StringFixed(2))
	s.Equal(domain.SaleStatusPaid, sale.Status)
	s.True(lieferschein.Valid(sale.Lieferschein), sale.Lieferschein)
	s.Equal(domain.CustomerSnapshot{Name: "Becker", Email: "jonas@example.com", Phone: "0301234"}, sale.Customer)
	s.Require().Len(sale.Lines, 1)
	s.Equal("Holzleim", sale.Lines[0].ProductName)
	s.Equal("20.00", sale.Lines[0].UnitPrice.StringFixed(2))
	s.Equal("shop", sale.Meta["channel"])

	s.Equal(2, s.stockOf("P"))
	s.Require().NotNil(details.Customer)
	s.Equal("C", details.Customer.ID)
	s.Equal(2, details.Products["P"].Stock)

	stored, ok := s.store.Sale(sale.ID)
	s.Require().True(ok)
	s.Equal(sale.Lieferschein, stored.Lieferschein)

	pending := s.store.Outbox().AllPending()
	s.Require().Len(pending, 1)
	s.Equal(string(domain.SaleEventCreated), pending[0].EventType)
	s.Equal(sale.ID, pending[0].AggregateID)
	s.Equal(1, s.metrics.results["create/success"])
}

func (s *SalesServiceSuite) TestCreateDefaultsToPaidAndZeroTax() {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "Q", Quantity: 2, UnitPrice: decPtr("10.005")}},
	})
	s.Require().NoError(err)

	s.Equal(domain.SaleStatusPaid, details.Sale.Status)
	s.Equal("20.01", details.Sale.Subtotal.StringFixed(2))
	s.True(details.Sale.Tax.IsZero())
	s.Equal(8, s.stockOf("Q"))
}

func (s *SalesServiceSuite) TestCreatePendingDoesNotTouchStock() {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 50}},
		Status:     domain.SaleStatusPending,
	})
	s.Require().NoError(err)
	s.Equal("1000.00", details.Sale.Subtotal.StringFixed(2))
	s.Equal(5, s.stockOf("P"))
}

func (s *SalesServiceSuite) TestCreateInsufficientStock() {
	s.createPaid(3)
	s.Require().Equal(2, s.stockOf("P"))

	_, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items: []ItemInput{
			{ProductID: "Q", Quantity: 1},
			{ProductID: "P", Quantity: 3},
		},
		Status: domain.SaleStatusPaid,
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.Contains(err.Error(), "P")

	s.Equal(2, s.stockOf("P"))
	s.Equal(10, s.stockOf("Q"))
	s.Equal(1, s.store.SaleCount())
	s.Equal(1, s.metrics.results["create/rejected"])
}

func (s *SalesServiceSuite) TestCreateValidation() {
	cases := []struct {
		name string
		in   CreateSaleInput
		want error
	}{
		{"no customer", CreateSaleInput{Items: []ItemInput{{ProductID: "P", Quantity: 1}}}, domain.ErrCustomerRequired},
		{"no items", CreateSaleInput{CustomerID: "C"}, domain.ErrItemsRequired},
		{"bad status", CreateSaleInput{CustomerID: "C", Items: []ItemInput{{ProductID: "P", Quantity: 1}}, Status: "shipped"}, domain.ErrStatusInvalid},
		{"zero qty", CreateSaleInput{CustomerID: "C", Items: []ItemInput{{ProductID: "P"}}}, domain.ErrItemQtyInvalid},
		{"qty above int32", CreateSaleInput{CustomerID: "C", Items: []ItemInput{{ProductID: "P", Quantity: math.MaxInt32 + 1}}}, domain.ErrItemQtyInvalid},
		{"negative price", CreateSaleInput{CustomerID: "C", Items: []ItemInput{{ProductID: "P", Quantity: 1, UnitPrice: decPtr("-1")}}}, domain.ErrItemPriceInvalid},
		{"negative tax", CreateSaleInput{CustomerID: "C", Items: []ItemInput{{ProductID: "P", Quantity: 1}}, TaxPercent: decPtr("-5")}, domain.ErrTaxPercentInvalid},
		{"empty product id", CreateSaleInput{CustomerID: "C", Items: []ItemInput{{ProductID: " ", Quantity: 1}}}, domain.ErrValidation},
	}

	for _, tc := range cases {
		_, err := s.service.Create(s.ctx, tc.in)
		s.Require().ErrorIs(err, tc.want, tc.name)
		s.Require().ErrorIs(err, domain.ErrValidation, tc.name)
	}
	s.Equal(5, s.stockOf("P"))
	s.Zero(s.store.SaleCount())
}

func (s *SalesServiceSuite) TestCreateRejectsSummedQuantityOverflow() {
	for _, qty := range []int{math.MaxInt32, math.MaxInt} {
		_, err := s.service.Create(s.ctx, CreateSaleInput{
			CustomerID: "C",
			Items:      []ItemInput{{ProductID: "P", Quantity: qty}, {ProductID: "P", Quantity: qty}},
			Status:     domain.SaleStatusPaid,
		})
		s.Require().ErrorIs(err, domain.ErrItemQtyInvalid, qty)
	}
	s.Equal(5, s.stockOf("P"))
	s.Zero(s.store.SaleCount())
}

func (s *SalesServiceSuite) TestCreateNotFound() {
	_, err := s.service.Create(s.ctx, CreateSaleInput{CustomerID: "nobody", Items: []ItemInput{{ProductID: "P", Quantity: 1}}})
	s.Require().ErrorIs(err, domain.ErrCustomerNotFound)

	_, err = s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
	s.Contains(err.Error(), "ghost")
	s.Equal(5, s.stockOf("P"))
}

func (s *SalesServiceSuite) TestCreateAbortsWhenLieferscheinExhausted() {
	taken := s.createPaid(1)
	s.Require().Equal(4, s.stockOf("P"))

	var suffix int64
	_, err := fmt.Sscan(taken.Lieferschein[len(lieferschein.Prefix):], &suffix)
	s.Require().NoError(err)

	service := NewService(s.store, WithGenerator(lieferschein.NewGenerator(
		lieferschein.WithSuffixSource(func() int64 { return suffix }),
		lieferschein.WithMaxAttempts(3),
	)))

	_, err = service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 2}},
	})
	s.Require().ErrorIs(err, domain.ErrGenerationExhausted)
	s.True(domain.IsBusinessRule(err))

	// списание уже было посчитано в транзакции, но откатилось
	s.Equal(4, s.stockOf("P"))
	s.Equal(1, s.store.SaleCount())
	s.Len(s.store.Outbox().AllPending(), 1)
}

func (s *SalesServiceSuite) TestUpdateRevertsAndReapplies() {
	sale := s.createPaid(3)
	s.Require().Equal(2, s.stockOf("P"))

	details, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{
		Status: domain.SaleStatusPaid,
		Items:  []ItemInput{{ProductID: "P", Quantity: 5}},
	})
	s.Require().NoError(err)

	s.Equal(0, s.stockOf("P"))
	s.Equal("100.00", details.Sale.Subtotal.StringFixed(2))
	s.Equal("10.00", details.Sale.Tax.StringFixed(2))
	s.Equal("110.00", details.Sale.Total.StringFixed(2))
	s.Equal(sale.Lieferschein, details.Sale.Lieferschein)
	s.Equal(sale.Customer, details.Sale.Customer)
	s.Equal(int64(2), details.Sale.Version)
}

func (s *SalesServiceSuite) TestUpdateCancelReleasesStock() {
	sale := s.createPaid(3)

	details, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{
		Status: domain.SaleStatusCancelled,
		Items:  []ItemInput{{ProductID: "P", Quantity: 3}},
	})
	s.Require().NoError(err)
	s.Equal(domain.SaleStatusCancelled, details.Sale.Status)
	s.Equal(5, s.stockOf("P"))
}

func (s *SalesServiceSuite) TestStockConservationAcrossStatusChanges() {
	sale := s.createPaid(3)
	s.Require().Equal(2, s.stockOf("P"))

	_, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{Status: domain.SaleStatusPending})
	s.Require().NoError(err)
	s.Equal(5, s.stockOf("P"))

	_, err = s.service.Update(s.ctx, sale.ID, UpdateSaleInput{Status: domain.SaleStatusPending})
	s.Require().NoError(err)
	s.Equal(5, s.stockOf("P"))

	_, err = s.service.Update(s.ctx, sale.ID, UpdateSaleInput{Status: domain.SaleStatusPaid})
	s.Require().NoError(err)
	s.Equal(2, s.stockOf("P"))
}

func (s *SalesServiceSuite) TestUpdateMovesStockBetweenProducts() {
	sale := s.createPaid(3)

	_, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{
		Status: domain.SaleStatusPaid,
		Items:  []ItemInput{{ProductID: "Q", Quantity: 4}},
	})
	s.Require().NoError(err)
	s.Equal(5, s.stockOf("P"))
	s.Equal(6, s.stockOf("Q"))
}

func (s *SalesServiceSuite) TestUpdateInsufficientStockLeavesEverything() {
	sale := s.createPaid(3)

	_, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{
		Status: domain.SaleStatusPaid,
		Items:  []ItemInput{{ProductID: "P", Quantity: 6}, {ProductID: "Q", Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	s.Equal(2, s.stockOf("P"))
	s.Equal(10, s.stockOf("Q"))
	stored, _ := s.store.Sale(sale.ID)
	s.Equal(sale.Version, stored.Version)
	s.Equal(3, stored.Lines[0].Quantity)
}

func (s *SalesServiceSuite) TestUpdateKeepsLinesWhenItemsOmitted() {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 1, UnitPrice: decPtr("12.50")}},
		TaxPercent: decPtr("20"),
		Status:     domain.SaleStatusPending,
	})
	s.Require().NoError(err)

	updated, err := s.service.Update(s.ctx, details.Sale.ID, UpdateSaleInput{Status: domain.SaleStatusPaid})
	s.Require().NoError(err)
	s.Require().Len(updated.Sale.Lines, 1)
	s.Equal("12.50", updated.Sale.Lines[0].UnitPrice.StringFixed(2))
	s.Equal("2.50", updated.Sale.Tax.StringFixed(2))
	s.Equal(4, s.stockOf("P"))
}

func (s *SalesServiceSuite) TestStatusOnlyUpdateKeepsSubCentPrices() {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "Q", Quantity: 3, UnitPrice: decPtr("10.005")}},
		Status:     domain.SaleStatusPending,
	})
	s.Require().NoError(err)
	s.Require().Len(details.Sale.Lines, 1)
	s.Equal("30.02", details.Sale.Lines[0].LineTotal.StringFixed(2))

	updated, err := s.service.Update(s.ctx, details.Sale.ID, UpdateSaleInput{Status: domain.SaleStatusPaid})
	s.Require().NoError(err)
	s.Require().Len(updated.Sale.Lines, 1)
	s.True(dec("10.005").Equal(updated.Sale.Lines[0].UnitPrice), updated.Sale.Lines[0].UnitPrice.String())
	s.Equal("30.02", updated.Sale.Lines[0].LineTotal.StringFixed(2))
	s.Equal("30.02", updated.Sale.Subtotal.StringFixed(2))
	s.Equal(7, s.stockOf("Q"))
}

func (s *SalesServiceSuite) TestUpdateUsesCurrentProductPriceAndFallbackTax() {
	details, err := s.service.Create(s.ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 1, UnitPrice: decPtr("0")}},
		TaxPercent: decPtr("25"),
		Status:     domain.SaleStatusPending,
	})
	s.Require().NoError(err)
	s.True(details.Sale.Subtotal.IsZero())

	updated, err := s.service.Update(s.ctx, details.Sale.ID, UpdateSaleInput{
		Status: domain.SaleStatusPending,
		Items:  []ItemInput{{ProductID: "P", Quantity: 2}},
	})
	s.Require().NoError(err)
	s.Equal("40.00", updated.Sale.Subtotal.StringFixed(2))
	s.Equal("4.00", updated.Sale.Tax.StringFixed(2))
	s.Equal("44.00", updated.Sale.Total.StringFixed(2))
}

func (s *SalesServiceSuite) TestUpdateKeepsCustomerSnapshot() {
	sale := s.createPaid(1)
	s.store.PutCustomer(domain.Customer{ID: "C", Name: "Becker-Neu", Email: "new@example.com"})

	details, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{Status: domain.SaleStatusPaid})
	s.Require().NoError(err)
	s.Equal("Becker", details.Sale.Customer.Name)
	s.Equal("jonas@example.com", details.Sale.Customer.Email)
	s.Equal("Becker-Neu", details.Customer.Name)
}

func (s *SalesServiceSuite) TestUpdateValidationAndNotFound() {
	sale := s.createPaid(1)

	_, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{})
	s.Require().ErrorIs(err, domain.ErrStatusInvalid)

	_, err = s.service.Update(s.ctx, sale.ID, UpdateSaleInput{Status: domain.SaleStatusPaid, Items: []ItemInput{}})
	s.Require().ErrorIs(err, domain.ErrItemsRequired)

	_, err = s.service.Update(s.ctx, "missing", UpdateSaleInput{Status: domain.SaleStatusPaid})
	s.Require().ErrorIs(err, domain.ErrSaleNotFound)

	_, err = s.service.Update(s.ctx, sale.ID, UpdateSaleInput{
		Status: domain.SaleStatusPaid,
		Items:  []ItemInput{{ProductID: "ghost", Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
	s.Equal(4, s.stockOf("P"))
}

func (s *SalesServiceSuite) TestUpdateEmitsEventWithPreviousStatus() {
	sale := s.createPaid(1)

	_, err := s.service.Update(s.ctx, sale.ID, UpdateSaleInput{Status: domain.SaleStatusCancelled})
	s.Require().NoError(err)

	pending := s.store.Outbox().AllPending()
	s.Require().Len(pending, 2)

	var event domain.SaleEvent
	s.Require().NoError(json.Unmarshal(pending[1].Payload, &event))
	s.Equal(domain.SaleEventUpdated, event.EventType)
	s.Equal(domain.SaleStatusPaid, event.PreviousStatus)
	s.Equal(domain.SaleStatusCancelled, event.Status)
}

func (s *SalesServiceSuite) TestDeleteDoesNotRestoreStock() {
	sale := s.createPaid(3)

	s.Require().NoError(s.service.Delete(s.ctx, sale.ID))
	s.Equal(2, s.stockOf("P"))
	s.Zero(s.store.SaleCount())

	_, err := s.service.Get(s.ctx, sale.ID)
	s.Require().ErrorIs(err, domain.ErrSaleNotFound)
	s.Require().ErrorIs(s.service.Delete(s.ctx, sale.ID), domain.ErrSaleNotFound)

	pending := s.store.Outbox().AllPending()
	s.Require().Len(pending, 2)
	s.Equal(string(domain.SaleEventDeleted), pending[1].EventType)
}

func (s *SalesServiceSuite) TestGetAndListJoinEntities() {
	first := s.createPaid(1)
	second := s.createPaid(1)

	details, err := s.service.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, details.Sale.ID)
	s.Require().NotNil(details.Customer)
	s.Equal("Becker", details.Customer.Name)
	s.Equal("Holzleim", details.Products["P"].Name)

	list, err := s.service.List(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	ids := []string{list[0].Sale.ID, list[1].Sale.ID}
	s.ElementsMatch([]string{first.ID, second.ID}, ids)

	limited, err := s.service.List(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *SalesServiceSuite) TestConcurrentCreatesNeverOversell() {
	service := NewService(s.store, WithRetryConfig(RetryConfig{MaxAttempts: 1000}))

	const buyers = 20
	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Create(s.ctx, CreateSaleInput{
				CustomerID: "C",
				Items:      []ItemInput{{ProductID: "Q", Quantity: 1}},
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(10), succeeded.Load())
	s.Equal(int32(10), insufficient.Load())
	s.Equal(0, s.stockOf("Q"))
	s.Equal(10, s.store.SaleCount())
}

func (s *SalesServiceSuite) TestConcurrentCreatesGetUniqueLieferscheine() {
	service := NewService(s.store, WithRetryConfig(RetryConfig{MaxAttempts: 1000}))

	const sales = 50
	numbers := make(chan string, sales)
	var wg sync.WaitGroup
	for range sales {
		wg.Add(1)
		go func() {
			defer wg.Done()
			details, err := service.Create(s.ctx, CreateSaleInput{
				CustomerID: "C",
				Items:      []ItemInput{{ProductID: "P", Quantity: 1}},
				Status:     domain.SaleStatusPending,
			})
			if err == nil {
				numbers <- details.Sale.Lieferschein
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]struct{})
	for number := range numbers {
		_, dup := seen[number]
		s.False(dup, number)
		seen[number] = struct{}{}
	}
	s.Len(seen, sales)
}

// conflictingStore отдаёт ErrWriteConflict на первых failures коммитах.
type conflictingStore struct {
	*memory.Store
	failures atomic.Int32
}

type conflictingTx struct {
	domain.Tx
	store *conflictingStore
}

func (c *conflictingStore) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &conflictingTx{Tx: tx, store: c}, nil
}

func (t *conflictingTx) Commit() error {
	if t.store.failures.Add(-1) >= 0 {
		_ = t.Tx.Rollback()
		return domain.ErrWriteConflict
	}
	return t.Tx.Commit()
}

func TestServiceRetriesWriteConflicts(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStore()
	base.PutCustomer(domain.Customer{ID: "C", Name: "Becker"})
	base.PutProduct(domain.Product{ID: "P", Name: "Holzleim", Stock: 5, Price: dec("20")})

	store := &conflictingStore{Store: base}
	store.failures.Store(2)
	metrics := newRecordingMetrics()
	service := NewService(store, WithMetrics(metrics), WithRetryConfig(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}))

	details, err := service.Create(ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, metrics.retries)

	product, _ := base.Product("P")
	require.Equal(t, 3, product.Stock)
	_, ok := base.Sale(details.Sale.ID)
	require.True(t, ok)
}

func TestServiceGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStore()
	base.PutCustomer(domain.Customer{ID: "C", Name: "Becker"})
	base.PutProduct(domain.Product{ID: "P", Name: "Holzleim", Stock: 5, Price: dec("20")})

	store := &conflictingStore{Store: base}
	store.failures.Store(10)
	metrics := newRecordingMetrics()
	service := NewService(store, WithMetrics(metrics), WithRetryConfig(RetryConfig{MaxAttempts: 2}))

	_, err := service.Create(ctx, CreateSaleInput{
		CustomerID: "C",
		Items:      []ItemInput{{ProductID: "P", Quantity: 2}},
	})
	require.ErrorIs(t, err, domain.ErrWriteConflict)
	require.Equal(t, 1, metrics.retries)
	require.Equal(t, 1, metrics.results["create/conflict"])

	product, _ := base.Product("P")
	require.Equal(t, 5, product.Stock)
	require.Zero(t, base.SaleCount())
}
