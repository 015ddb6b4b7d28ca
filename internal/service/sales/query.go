package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// Get возвращает продажу вместе с клиентом и товарами.
func (s *Service) Get(ctx context.Context, id string) (domain.SaleDetails, error) {
	var details domain.SaleDetails
	err := s.view(ctx, func(tx domain.Tx) error {
		sale, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		details, err = s.join(ctx, tx, sale, map[string]*domain.Customer{})
		return err
	})
	return details, err
}

// List возвращает продажи от новых к старым; limit <= 0 — все.
func (s *Service) List(ctx context.Context, limit int) ([]domain.SaleDetails, error) {
	var result []domain.SaleDetails
	err := s.view(ctx, func(tx domain.Tx) error {
		sales, err := tx.ListSales(ctx, limit)
		if err != nil {
			return err
		}

		customers := make(map[string]*domain.Customer)
		result = make([]domain.SaleDetails, 0, len(sales))
		for _, sale := range sales {
			details, err := s.join(ctx, tx, sale, customers)
			if err != nil {
				return err
			}
			result = append(result, details)
		}
		return nil
	})
	return result, err
}

func (s *Service) view(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.store.BeginReadOnly(ctx)
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, domain.ErrTxClosed) {
			s.logger.WithError(rbErr).Warn("failed to close read-only transaction")
		}
	}()
	return fn(tx)
}

// join подтягивает клиента и товары продажи. Удалённые из справочников
// сущности не считаются ошибкой: продажа хранит снимок нужных полей.
func (s *Service) join(ctx context.Context, tx domain.Tx, sale domain.Sale, customers map[string]*domain.Customer) (domain.SaleDetails, error) {
	details := domain.SaleDetails{Sale: sale, Products: make(map[string]domain.Product, len(sale.Lines))}

	customer, cached := customers[sale.CustomerID]
	if !cached {
		c, err := tx.GetCustomer(ctx, sale.CustomerID)
		switch {
		case err == nil:
			customer = &c
		case domain.IsNotFound(err):
		default:
			return domain.SaleDetails{}, err
		}
		customers[sale.CustomerID] = customer
	}
	details.Customer = customer

	for _, productID := range sale.ProductIDs() {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return domain.SaleDetails{}, err
		}
		details.Products[productID] = product
	}
	return details, nil
}
