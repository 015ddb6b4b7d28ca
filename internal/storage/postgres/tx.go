package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const productColumns = `id, name, location, article_number, description, stock, price, version, updated_at`

const saleColumns = `id, customer_id, customer_name, customer_email, customer_phone,
	subtotal, tax, total, status, lieferschein, meta, version, created_at, updated_at`

type tx struct {
	tx       *sql.Tx
	readOnly bool
	closed   bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *tx) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if err := t.check(); err != nil {
		return domain.Customer{}, err
	}

	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, first_name, email, address, phone
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.FirstName, &c.Email, &c.Address, &c.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, id)
		}
		return domain.Customer{}, asWriteConflict("get customer", err)
	}
	return c, nil
}

func (t *tx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := t.check(); err != nil {
		return domain.Product{}, err
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if !t.readOnly {
		query += ` FOR UPDATE`
	}

	product, err := scanProduct(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		return domain.Product{}, asWriteConflict("get product", err)
	}
	return product, nil
}

func (t *tx) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	if err := t.checkWrite(); err != nil {
		return domain.Product{}, err
	}

	product, err := scanProduct(t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING `+productColumns,
		productID, delta, time.Now().UTC(),
	))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, asWriteConflict("adjust stock", err)
	}

	if _, getErr := t.GetProduct(ctx, productID); getErr != nil {
		return domain.Product{}, getErr
	}
	return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrInsufficientStock, productID)
}

func (t *tx) LieferscheinExists(ctx context.Context, number string) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}

	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM lieferschein_numbers WHERE number = $1)
	`, number).Scan(&exists)
	if err != nil {
		return false, asWriteConflict("check lieferschein", err)
	}
	return exists, nil
}

func (t *tx) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if err := t.check(); err != nil {
		return domain.Sale{}, err
	}

	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if !t.readOnly {
		query += ` FOR UPDATE`
	}

	sale, err := scanSale(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
		}
		return domain.Sale{}, asWriteConflict("get sale", err)
	}

	lines, err := t.loadLines(ctx, []string{id})
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Lines = lines[id]
	return sale, nil
}

func (t *tx) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	var limitArg sql.NullInt64
	if limit > 0 {
		limitArg = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, asWriteConflict("list sales", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0)
	ids := make([]string, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	if len(ids) == 0 {
		return sales, nil
	}

	lines, err := t.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if err := t.checkWrite(); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO lieferschein_numbers (number, sale_id, issued_at)
		VALUES ($1, $2, $3)
	`, sale.Lieferschein, sale.ID, sale.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("lieferschein %s: %w", sale.Lieferschein, domain.ErrWriteConflict)
		}
		return asWriteConflict("reserve lieferschein", err)
	}

	meta, err := marshalMeta(sale.Meta)
	if err != nil {
		return err
	}
	if sale.Version == 0 {
		sale.Version = 1
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, customer_name, customer_email, customer_phone,
			subtotal, tax, total, status, lieferschein, meta, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		sale.ID, sale.CustomerID, sale.Customer.Name, sale.Customer.Email, sale.Customer.Phone,
		sale.Subtotal, sale.Tax, sale.Total, string(sale.Status), sale.Lieferschein, meta,
		sale.Version, sale.CreatedAt, sale.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert sale %s: %w", sale.ID, domain.ErrWriteConflict)
		}
		return asWriteConflict("insert sale", err)
	}

	return t.insertLines(ctx, sale.ID, sale.Lines)
}

func (t *tx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	if err := t.checkWrite(); err != nil {
		return err
	}

	meta, err := marshalMeta(sale.Meta)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET subtotal = $3,
		    tax = $4,
		    total = $5,
		    status = $6,
		    meta = $7,
		    updated_at = $8,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`,
		sale.ID, sale.Version, sale.Subtotal, sale.Tax, sale.Total, string(sale.Status), meta, sale.UpdatedAt,
	)
	if err != nil {
		return asWriteConflict("update sale", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for sale update: %w", err)
	}
	if affected == 0 {
		if _, getErr := t.GetSale(ctx, sale.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("sale %s version %d: %w", sale.ID, sale.Version, domain.ErrWriteConflict)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, sale.ID); err != nil {
		return asWriteConflict("delete sale lines", err)
	}
	return t.insertLines(ctx, sale.ID, sale.Lines)
}

func (t *tx) DeleteSale(ctx context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return asWriteConflict("delete sale", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for sale delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	return nil
}

func (t *tx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := t.checkWrite(); err != nil {
		return domain.OutboxMessage{}, err
	}
	msg, err := insertOutbox(ctx, t.tx, msg)
	if err != nil {
		return domain.OutboxMessage{}, asWriteConflict("enqueue outbox", err)
	}
	return msg, nil
}

func (t *tx) Commit() error {
	if t.closed {
		return domain.ErrTxClosed
	}
	t.closed = true
	if err := t.tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit: %w: %v", domain.ErrWriteConflict, err)
		}
		return asWriteConflict("commit", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *tx) check() error {
	if t.closed {
		return domain.ErrTxClosed
	}
	return nil
}

func (t *tx) checkWrite() error {
	if err := t.check(); err != nil {
		return err
	}
	if t.readOnly {
		return domain.ErrTxReadOnly
	}
	return nil
}

func (t *tx) insertLines(ctx context.Context, saleID string, lines []domain.SaleLine) error {
	for i, line := range lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, position, product_id, product_name, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, saleID, i, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.LineTotal); err != nil {
			return asWriteConflict("insert sale line", err)
		}
	}
	return nil
}

func (t *tx) loadLines(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT sale_id, id, product_id, product_name, quantity, unit_price, line_total
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, asWriteConflict("load sale lines", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.SaleLine, len(saleIDs))
	for rows.Next() {
		var (
			saleID string
			line   domain.SaleLine
		)
		if err := rows.Scan(&saleID, &line.ID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		result[saleID] = append(result[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale lines: %w", err)
	}
	return result, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Location, &p.ArticleNumber, &p.Description, &p.Stock, &p.Price, &p.Version, &p.UpdatedAt)
	return p, err
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		s      domain.Sale
		status string
		meta   []byte
	)
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.Customer.Name, &s.Customer.Email, &s.Customer.Phone,
		&s.Subtotal, &s.Tax, &s.Total, &status, &s.Lieferschein, &meta, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}

	s.Status = domain.SaleStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Meta); err != nil {
			return domain.Sale{}, fmt.Errorf("decode meta of sale %s: %w", s.ID, err)
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode sale meta: %w", err)
	}
	return raw, nil
}

var _ domain.Tx = (*tx)(nil)
