// Package sales — оркестратор продаж: создание, изменение и удаление продажи
// вместе со сведением остатков, расчётом сумм и выдачей номера накладной
// в одной транзакции.
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/money"
	"github.com/vladislavdragonenkov/salesledger/internal/service/lieferschein"
	"github.com/vladislavdragonenkov/salesledger/internal/service/stock"
)

// DefaultFallbackTaxPercent — процент налога при изменении продажи, у которой
// прежний подытог был нулевым.
var DefaultFallbackTaxPercent = decimal.NewFromInt(10)

// Metrics — метрики, которые пишет оркестратор.
type Metrics interface {
	RecordOperationStarted()
	RecordOperationFinished(operation, result string, duration time.Duration)
	RecordTxRetry()
	RecordLieferscheinCollision()
	RecordStockMovement(delta int)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperationStarted()                               {}
func (noopMetrics) RecordOperationFinished(string, string, time.Duration) {}
func (noopMetrics) RecordTxRetry()                                        {}
func (noopMetrics) RecordLieferscheinCollision()                          {}
func (noopMetrics) RecordStockMovement(int)                               {}

// Options задаёт параметры Service.
type Options struct {
	Logger               *log.Entry
	Metrics              Metrics
	Retry                RetryConfig
	LieferscheinAttempts int
	FallbackTaxPercent   decimal.Decimal
	Generator            *lieferschein.Generator
	Clock                func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики.
func WithMetrics(metrics Metrics) Option {
	return func(opts *Options) {
		opts.Metrics = metrics
	}
}

// WithRetryConfig задаёт повторы после конфликтов записи.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// WithLieferscheinAttempts задаёт число попыток подобрать номер накладной.
func WithLieferscheinAttempts(attempts int) Option {
	return func(opts *Options) {
		opts.LieferscheinAttempts = attempts
	}
}

// WithFallbackTaxPercent задаёт процент налога для продаж с нулевым прежним подытогом.
func WithFallbackTaxPercent(percent decimal.Decimal) Option {
	return func(opts *Options) {
		opts.FallbackTaxPercent = percent
	}
}

// WithGenerator подменяет генератор номеров накладных.
func WithGenerator(generator *lieferschein.Generator) Option {
	return func(opts *Options) {
		opts.Generator = generator
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service выполняет операции над продажами.
type Service struct {
	store      domain.Store
	generator  *lieferschein.Generator
	adjuster   *stock.Adjuster
	metrics    Metrics
	logger     *log.Entry
	retry      RetryConfig
	fallbackTx decimal.Decimal
	now        func() time.Time
}

// NewService создаёт оркестратор продаж поверх store.
func NewService(store domain.Store, options ...Option) *Service {
	opts := Options{
		Retry:              DefaultRetryConfig(),
		FallbackTaxPercent: DefaultFallbackTaxPercent,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "sales-service")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.FallbackTaxPercent.IsNegative() {
		opts.FallbackTaxPercent = DefaultFallbackTaxPercent
	}

	generator := opts.Generator
	if generator == nil {
		generator = lieferschein.NewGenerator(
			lieferschein.WithLogger(logger.WithField("component", "lieferschein-generator")),
			lieferschein.WithMaxAttempts(opts.LieferscheinAttempts),
			lieferschein.WithMetrics(metrics),
		)
	}

	return &Service{
		store:      store,
		generator:  generator,
		adjuster:   stock.NewAdjuster(logger.WithField("component", "stock-adjuster"), metrics),
		metrics:    metrics,
		logger:     logger,
		retry:      opts.Retry.normalized(),
		fallbackTx: opts.FallbackTaxPercent,
		now:        opts.Clock,
	}
}

// Create оформляет новую продажу: списывает товар при статусе paid,
// считает суммы и выдаёт номер накладной.
func (s *Service) Create(ctx context.Context, in CreateSaleInput) (details domain.SaleDetails, err error) {
	done := s.track("create")
	defer func() { done(err) }()

	in, err = in.normalize()
	if err != nil {
		return domain.SaleDetails{}, err
	}

	err = s.inTx(ctx, "create sale", func(tx domain.Tx) error {
		customer, err := tx.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}

		plan, err := stock.Plan(stock.State{}, stockState(in.Status, in.Items))
		if err != nil {
			return err
		}
		products, err := s.adjuster.Apply(ctx, tx, plan)
		if err != nil {
			return err
		}

		lines, totals := buildLines(in.Items, products, in.taxPercent())

		number, err := s.generator.Next(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now()
		sale := domain.Sale{
			ID:           uuid.NewString(),
			CustomerID:   customer.ID,
			Customer:     customer.Snapshot(),
			Lines:        lines,
			Subtotal:     totals.Subtotal,
			Tax:          totals.Tax,
			Total:        totals.Total,
			Status:       in.Status,
			Lieferschein: number,
			Meta:         in.Meta,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		if err := s.enqueue(ctx, tx, domain.SaleEventCreated, sale, ""); err != nil {
			return err
		}

		details = domain.SaleDetails{Sale: sale, Customer: &customer, Products: products}
		return nil
	})
	if err != nil {
		return domain.SaleDetails{}, err
	}

	s.logger.WithFields(log.Fields{
		"sale_id":      details.Sale.ID,
		"lieferschein": details.Sale.Lieferschein,
		"status":       details.Sale.Status,
		"total":        details.Sale.Total.StringFixed(money.Places),
	}).Info("sale created")
	return details, nil
}

// Update меняет статус и/или позиции продажи: возвращает на склад всё, что было
// списано прежним состоянием, списывает то, что требует новое, и пересчитывает суммы.
// Номер накладной и снимок клиента не меняются.
func (s *Service) Update(ctx context.Context, id string, in UpdateSaleInput) (details domain.SaleDetails, err error) {
	done := s.track("update")
	defer func() { done(err) }()

	in, err = in.normalize()
	if err != nil {
		return domain.SaleDetails{}, err
	}

	var previous domain.SaleStatus
	err = s.inTx(ctx, "update sale", func(tx domain.Tx) error {
		sale, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		previous = sale.Status

		items := in.Items
		if items == nil {
			items = itemsFromLines(sale.Lines)
		}

		plan, err := stock.Plan(stock.StateOf(sale), stockState(in.Status, items))
		if err != nil {
			return err
		}
		products, err := s.adjuster.Apply(ctx, tx, plan)
		if err != nil {
			return err
		}

		percent := money.EffectiveTaxPercent(sale.Tax, sale.Subtotal, s.fallbackTx)
		lines, totals := buildLines(items, products, percent)

		sale.Lines = lines
		sale.Status = in.Status
		sale.Subtotal = totals.Subtotal
		sale.Tax = totals.Tax
		sale.Total = totals.Total
		if in.Meta != nil {
			sale.Meta = in.Meta
		}
		sale.UpdatedAt = s.now()

		if err := tx.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		sale.Version++
		if err := s.enqueue(ctx, tx, domain.SaleEventUpdated, sale, previous); err != nil {
			return err
		}

		details = domain.SaleDetails{Sale: sale, Products: products}
		if customer, err := tx.GetCustomer(ctx, sale.CustomerID); err == nil {
			details.Customer = &customer
		} else if !domain.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.SaleDetails{}, err
	}

	s.logger.WithFields(log.Fields{
		"sale_id":         details.Sale.ID,
		"previous_status": previous,
		"status":          details.Sale.Status,
		"total":           details.Sale.Total.StringFixed(money.Places),
	}).Info("sale updated")
	return details, nil
}

// Delete удаляет продажу. Остатки по удалённой продаже не восстанавливаются.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	done := s.track("delete")
	defer func() { done(err) }()

	err = s.inTx(ctx, "delete sale", func(tx domain.Tx) error {
		sale, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteSale(ctx, id); err != nil {
			return fmt.Errorf("delete sale: %w", err)
		}
		return s.enqueue(ctx, tx, domain.SaleEventDeleted, sale, sale.Status)
	})
	if err != nil {
		return err
	}

	s.logger.WithField("sale_id", id).Info("sale deleted")
	return nil
}

func (s *Service) enqueue(ctx context.Context, tx domain.Tx, eventType domain.SaleEventType, sale domain.Sale, previous domain.SaleStatus) error {
	msg, err := domain.NewSaleEvent(eventType, sale, previous, s.now()).OutboxMessage()
	if err != nil {
		return err
	}
	if _, err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

// buildLines считает строки продажи. Цена позиции без явной цены берётся из товара.
func buildLines(items []ItemInput, products map[string]domain.Product, taxPercent decimal.Decimal) ([]domain.SaleLine, money.Totals) {
	inputs := make([]money.Line, 0, len(items))
	for _, item := range items {
		price := products[item.ProductID].Price
		if item.UnitPrice != nil {
			price = *item.UnitPrice
		}
		inputs = append(inputs, money.Line{Quantity: item.Quantity, UnitPrice: price})
	}

	totals := money.Compute(inputs, taxPercent)

	lines := make([]domain.SaleLine, 0, len(items))
	for i, item := range items {
		lines = append(lines, domain.SaleLine{
			ID:          uuid.NewString(),
			ProductID:   item.ProductID,
			ProductName: products[item.ProductID].Name,
			Quantity:    item.Quantity,
			UnitPrice:   inputs[i].UnitPrice,
			LineTotal:   totals.LineTotals[i],
		})
	}
	return lines, totals
}

// track учитывает длительность и исход операции.
func (s *Service) track(operation string) func(error) {
	started := time.Now()
	s.metrics.RecordOperationStarted()
	return func(err error) {
		s.metrics.RecordOperationFinished(operation, resultOf(err), time.Since(started))
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsBusinessRule(err):
		return "rejected"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsWriteConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
