// Package httpapi — HTTP-граница сервиса продаж на gin.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/idempotency"
	"github.com/vladislavdragonenkov/salesledger/internal/service/sales"
)

const (
	// HeaderIdempotencyKey — необязательный ключ идемпотентности для POST /sales.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyReplayed выставляется, если ответ взят из хранилища ключей.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"

	internalErrorMessage = "internal server error"
	maxListLimit         = 1000
)

// SalesService — операции над продажами, которые нужны HTTP-слою.
type SalesService interface {
	Create(ctx context.Context, in sales.CreateSaleInput) (domain.SaleDetails, error)
	Update(ctx context.Context, id string, in sales.UpdateSaleInput) (domain.SaleDetails, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domain.SaleDetails, error)
	List(ctx context.Context, limit int) ([]domain.SaleDetails, error)
}

// Handler обслуживает /sales.
type Handler struct {
	sales  SalesService
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewHandler создаёт обработчик. При nil guard заголовок Idempotency-Key игнорируется.
func NewHandler(svc SalesService, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		sales:  svc,
		guard:  guard,
		logger: logger,
	}
}

// RegisterRoutes регистрирует маршруты продаж в группе (обычно /api).
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	salesGroup := router.Group("/sales")
	{
		salesGroup.GET("", h.ListSales)
		salesGroup.GET("/:id", h.GetSale)
		salesGroup.POST("", h.CreateSale)
		salesGroup.PUT("/:id", h.UpdateSale)
		salesGroup.DELETE("/:id", h.DeleteSale)
	}
}

// CreateSale обрабатывает POST /sales.
func (h *Handler) CreateSale(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.writeJSON(c, http.StatusBadRequest, result{Message: "cannot read request body"})
		return
	}

	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	hash := idempotency.HashRequest(c.Request.Method, c.FullPath(), body)

	resp, replayed, err := h.guard.Do(key, hash, func() idempotency.Response {
		return h.create(c.Request.Context(), body)
	})
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		h.writeJSON(c, http.StatusBadRequest, result{Message: "idempotency key is already used with a different request"})
		return
	case errors.Is(err, idempotency.ErrInProgress):
		h.writeJSON(c, http.StatusConflict, result{Message: err.Error()})
		return
	case err != nil:
		h.logger.WithError(err).WithField("idempotency_key", key).Error("idempotency check failed")
		h.writeJSON(c, http.StatusInternalServerError, result{Message: internalErrorMessage})
		return
	}

	if replayed {
		c.Header(HeaderIdempotencyReplayed, "true")
	}
	c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
}

func (h *Handler) create(ctx context.Context, body []byte) idempotency.Response {
	var req createSaleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return h.encode(http.StatusBadRequest, result{Message: "invalid request body"})
	}

	details, err := h.sales.Create(ctx, req.input())
	if err != nil {
		status, msg := h.classify(err, "create sale")
		return h.encode(status, result{Message: msg})
	}

	sale := toSaleResponse(details)
	return h.encode(http.StatusCreated, result{OK: true, Sale: &sale})
}

// UpdateSale обрабатывает PUT /sales/:id.
func (h *Handler) UpdateSale(c *gin.Context) {
	var req updateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeJSON(c, http.StatusBadRequest, result{Message: "invalid request body"})
		return
	}

	details, err := h.sales.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		h.writeError(c, err, "update sale")
		return
	}

	sale := toSaleResponse(details)
	h.writeJSON(c, http.StatusOK, result{OK: true, Sale: &sale})
}

// DeleteSale обрабатывает DELETE /sales/:id.
func (h *Handler) DeleteSale(c *gin.Context) {
	if err := h.sales.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "delete sale")
		return
	}
	h.writeJSON(c, http.StatusOK, result{OK: true, Message: "sale deleted"})
}

// GetSale обрабатывает GET /sales/:id.
func (h *Handler) GetSale(c *gin.Context) {
	details, err := h.sales.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "get sale")
		return
	}

	sale := toSaleResponse(details)
	h.writeJSON(c, http.StatusOK, result{OK: true, Sale: &sale})
}

// ListSales отдаёт продажи от новых к старым, GET /sales?limit=N.
func (h *Handler) ListSales(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxListLimit {
			h.writeJSON(c, http.StatusBadRequest, result{Message: "limit must be an integer between 0 and 1000"})
			return
		}
		limit = n
	}

	list, err := h.sales.List(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err, "list sales")
		return
	}

	items := make([]saleResponse, 0, len(list))
	for _, details := range list {
		items = append(items, toSaleResponse(details))
	}
	h.writeJSON(c, http.StatusOK, listResult{OK: true, Sales: items})
}

type listResult struct {
	OK    bool           `json:"ok"`
	Sales []saleResponse `json:"sales"`
}

// classify переводит ошибку сервиса в HTTP-статус. Текст внутренних ошибок наружу не уходит.
func (h *Handler) classify(err error, op string) (int, string) {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case domain.IsBusinessRule(err):
		return http.StatusBadRequest, err.Error()
	default:
		h.logger.WithError(err).WithField("operation", op).Error("request failed")
		return http.StatusInternalServerError, internalErrorMessage
	}
}

func (h *Handler) writeError(c *gin.Context, err error, op string) {
	status, msg := h.classify(err, op)
	h.writeJSON(c, status, result{Message: msg})
}

func (h *Handler) writeJSON(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func (h *Handler) encode(status int, body result) idempotency.Response {
	raw, err := json.Marshal(body)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode response")
		raw = []byte(`{"ok":false,"message":"` + internalErrorMessage + `"}`)
		status = http.StatusInternalServerError
	}
	return idempotency.Response{Status: status, Body: raw}
}
