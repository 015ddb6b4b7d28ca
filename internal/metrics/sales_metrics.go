package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Операции продаж, используемые как значения label "operation".
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Направления движения остатков для label "direction".
const (
	StockReturned = "returned"
	StockDrawn    = "drawn"
)

// SalesMetrics содержит метрики ядра продаж.
type SalesMetrics struct {
	// Результаты операций по типу и исходу
	operations *prometheus.CounterVec
	// Время выполнения единицы работы целиком, с учётом повторов
	operationDuration *prometheus.HistogramVec

	// Повторы транзакций после конфликтов записи
	txRetries prometheus.Counter
	// Коллизии номеров Lieferschein при генерации
	lieferscheinCollisions prometheus.Counter
	// Количество единиц товара, возвращённых на склад и списанных со склада
	stockUnits *prometheus.CounterVec

	// Операции в процессе выполнения
	inFlight prometheus.Gauge
}

// NewSalesMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewSalesMetrics() *SalesMetrics {
	return NewSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSalesMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_operations_total",
			Help: "Total number of sale operations grouped by operation and result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "sales_operation_duration_seconds",
			Help:    "Duration of sale operations in seconds including transaction retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		txRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_tx_retries_total",
			Help: "Total number of sale transactions retried after a write conflict",
		}),
		lieferscheinCollisions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_lieferschein_collisions_total",
			Help: "Total number of generated lieferschein numbers that were already taken",
		}),
		stockUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_stock_units_total",
			Help: "Total number of stock units moved by sale reconciliation grouped by direction",
		}, []string{"direction"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_operations_in_flight",
			Help: "Number of sale operations currently executing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperationStarted увеличивает количество выполняющихся операций.
func (m *SalesMetrics) RecordOperationStarted() {
	m.inFlight.Inc()
}

// RecordOperationFinished фиксирует исход операции и её длительность.
func (m *SalesMetrics) RecordOperationFinished(operation, result string, duration time.Duration) {
	m.inFlight.Dec()
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTxRetry увеличивает счётчик повторов транзакций.
func (m *SalesMetrics) RecordTxRetry() {
	m.txRetries.Inc()
}

// RecordLieferscheinCollision увеличивает счётчик коллизий номеров накладных.
func (m *SalesMetrics) RecordLieferscheinCollision() {
	m.lieferscheinCollisions.Inc()
}

// RecordStockMovement учитывает движение остатков по знаку дельты.
func (m *SalesMetrics) RecordStockMovement(delta int) {
	switch {
	case delta > 0:
		m.stockUnits.WithLabelValues(StockReturned).Add(float64(delta))
	case delta < 0:
		m.stockUnits.WithLabelValues(StockDrawn).Add(float64(-delta))
	}
}
