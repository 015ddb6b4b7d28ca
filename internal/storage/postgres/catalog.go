package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// UpsertCustomer добавляет или обновляет клиента. Справочник клиентов ведётся
// вне сервиса продаж; метод нужен для загрузки данных и тестов.
func (s *Store) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, first_name, email, address, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			first_name = EXCLUDED.first_name,
			email = EXCLUDED.email,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.Name, c.FirstName, c.Email, c.Address, c.Phone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.ID, err)
	}
	return nil
}

// UpsertProduct добавляет или обновляет товар целиком, включая остаток.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, location, article_number, description, stock, price, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			article_number = EXCLUDED.article_number,
			description = EXCLUDED.description,
			stock = EXCLUDED.stock,
			price = EXCLUDED.price,
			version = products.version + 1,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Location, p.ArticleNumber, p.Description, p.Stock, p.Price, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}
