package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

func seededStore() *Store {
	store := NewStore()
	store.PutCustomer(domain.Customer{ID: "c-1", Name: "Schmidt", Email: "s@example.com"})
	store.PutProduct(domain.Product{ID: "p-1", Name: "Schraube", Stock: 5, Price: decimal.NewFromInt(20)})
	return store
}

func testSale(id, number string) domain.Sale {
	return domain.Sale{
		ID:           id,
		CustomerID:   "c-1",
		Lines:        []domain.SaleLine{{ProductID: "p-1", Quantity: 1}},
		Status:       domain.SaleStatusPaid,
		Lieferschein: number,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestTx_CommitAppliesStockAndSale(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	product, err := tx.AdjustStock(ctx, "p-1", -3)
	require.NoError(t, err)
	require.Equal(t, 2, product.Stock)
	require.NoError(t, tx.InsertSale(ctx, testSale("s-1", "45020100000001")))
	_, err = tx.EnqueueOutbox(ctx, domain.OutboxMessage{AggregateType: "sale", AggregateID: "s-1", EventType: "sale.created"})
	require.NoError(t, err)

	// до Commit изменения не видны
	committed, _ := store.Product("p-1")
	require.Equal(t, 5, committed.Stock)
	require.Empty(t, store.Outbox().AllPending())

	require.NoError(t, tx.Commit())

	committed, _ = store.Product("p-1")
	require.Equal(t, 2, committed.Stock)
	sale, ok := store.Sale("s-1")
	require.True(t, ok)
	require.Equal(t, int64(1), sale.Version)
	require.Len(t, store.Outbox().AllPending(), 1)

	require.ErrorIs(t, tx.Commit(), domain.ErrTxClosed)
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.AdjustStock(ctx, "p-1", -5)
	require.NoError(t, err)
	require.NoError(t, tx.InsertSale(ctx, testSale("s-1", "45020100000001")))
	require.NoError(t, tx.Rollback())

	committed, _ := store.Product("p-1")
	require.Equal(t, 5, committed.Stock)
	require.Zero(t, store.SaleCount())

	_, err = tx.GetProduct(ctx, "p-1")
	require.ErrorIs(t, err, domain.ErrTxClosed)
}

func TestTx_AdjustStockRejectsNegative(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.AdjustStock(ctx, "p-1", -6)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = tx.AdjustStock(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestTx_ConcurrentStockWritersConflict(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	second, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = first.AdjustStock(ctx, "p-1", -3)
	require.NoError(t, err)
	_, err = second.AdjustStock(ctx, "p-1", -3)
	require.NoError(t, err)

	require.NoError(t, first.Commit())
	require.ErrorIs(t, second.Commit(), domain.ErrWriteConflict)

	committed, _ := store.Product("p-1")
	require.Equal(t, 2, committed.Stock)
}

func TestTx_LieferscheinUniqueAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	second, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, first.InsertSale(ctx, testSale("s-1", "45020100000001")))
	require.NoError(t, second.InsertSale(ctx, testSale("s-2", "45020100000001")))

	require.NoError(t, first.Commit())
	require.ErrorIs(t, second.Commit(), domain.ErrWriteConflict)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	exists, err := tx.LieferscheinExists(ctx, "45020100000001")
	require.NoError(t, err)
	require.True(t, exists)
	require.ErrorIs(t, tx.InsertSale(ctx, testSale("s-3", "45020100000001")), domain.ErrWriteConflict)
}

func TestTx_DeletedSaleKeepsLieferscheinReserved(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.InsertSale(ctx, testSale("s-1", "45020100000001")))
	require.NoError(t, tx.Commit())

	tx, _ = store.Begin(ctx)
	require.NoError(t, tx.DeleteSale(ctx, "s-1"))
	_, err := tx.GetSale(ctx, "s-1")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)
	require.NoError(t, tx.Commit())

	require.Zero(t, store.SaleCount())

	tx, _ = store.Begin(ctx)
	defer tx.Rollback()
	exists, err := tx.LieferscheinExists(ctx, "45020100000001")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestTx_UpdateSaleOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.InsertSale(ctx, testSale("s-1", "45020100000001")))
	require.NoError(t, tx.Commit())

	a, _ := store.Begin(ctx)
	b, _ := store.Begin(ctx)

	saleA, err := a.GetSale(ctx, "s-1")
	require.NoError(t, err)
	saleB, err := b.GetSale(ctx, "s-1")
	require.NoError(t, err)

	saleA.Status = domain.SaleStatusCancelled
	require.NoError(t, a.UpdateSale(ctx, saleA))
	saleB.Status = domain.SaleStatusPending
	require.NoError(t, b.UpdateSale(ctx, saleB))

	require.NoError(t, a.Commit())
	require.ErrorIs(t, b.Commit(), domain.ErrWriteConflict)

	stored, _ := store.Sale("s-1")
	require.Equal(t, domain.SaleStatusCancelled, stored.Status)
	require.Equal(t, int64(2), stored.Version)

	stale, _ := store.Begin(ctx)
	defer stale.Rollback()
	require.ErrorIs(t, stale.UpdateSale(ctx, saleB), domain.ErrWriteConflict)
}

func TestTx_ListSalesNewestFirstWithStagedWrites(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	base := time.Now().UTC()

	tx, _ := store.Begin(ctx)
	for i, id := range []string{"s-1", "s-2"} {
		sale := testSale(id, "4502010000000"+string(rune('1'+i)))
		sale.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, tx.InsertSale(ctx, sale))
	}
	require.NoError(t, tx.Commit())

	tx, _ = store.Begin(ctx)
	defer tx.Rollback()
	third := testSale("s-3", "45020100000009")
	third.CreatedAt = base.Add(time.Minute)
	require.NoError(t, tx.InsertSale(ctx, third))
	require.NoError(t, tx.DeleteSale(ctx, "s-1"))

	sales, err := tx.ListSales(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.Equal(t, "s-3", sales[0].ID)
	require.Equal(t, "s-2", sales[1].ID)

	limited, err := tx.ListSales(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestStore_BeginWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStore().Begin(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStore_ReadOnlyTxRejectsWrites(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	tx, err := store.BeginReadOnly(ctx)
	require.NoError(t, err)

	product, err := tx.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, 5, product.Stock)

	_, err = tx.AdjustStock(ctx, "p-1", -1)
	require.ErrorIs(t, err, domain.ErrTxReadOnly)
	require.ErrorIs(t, tx.InsertSale(ctx, testSale("s-1", "45020100000001")), domain.ErrTxReadOnly)
	require.NoError(t, tx.Commit())
}
