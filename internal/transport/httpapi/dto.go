package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/sales"
)

type itemRequest struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

type createSaleRequest struct {
	CustomerID string           `json:"customerId"`
	Items      []itemRequest    `json:"items"`
	TaxPercent *decimal.Decimal `json:"taxPercent,omitempty"`
	Status     string           `json:"status,omitempty"`
	Meta       map[string]any   `json:"meta,omitempty"`
}

// updateSaleRequest: отсутствующий items — позиции не меняются, [] — ошибка валидации.
type updateSaleRequest struct {
	Status string         `json:"status"`
	Items  []itemRequest  `json:"items"`
	Meta   map[string]any `json:"meta"`
}

func toItemInputs(items []itemRequest) []sales.ItemInput {
	if items == nil {
		return nil
	}
	result := make([]sales.ItemInput, 0, len(items))
	for _, item := range items {
		result = append(result, sales.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return result
}

func (r createSaleRequest) input() sales.CreateSaleInput {
	return sales.CreateSaleInput{
		CustomerID: r.CustomerID,
		Items:      toItemInputs(r.Items),
		TaxPercent: r.TaxPercent,
		Status:     domain.SaleStatus(r.Status),
		Meta:       r.Meta,
	}
}

func (r updateSaleRequest) input() sales.UpdateSaleInput {
	return sales.UpdateSaleInput{
		Status: domain.SaleStatus(r.Status),
		Items:  toItemInputs(r.Items),
		Meta:   r.Meta,
	}
}

// result — единая форма ответа API.
type result struct {
	OK      bool           `json:"ok"`
	Sale    *saleResponse  `json:"sale,omitempty"`
	Sales   []saleResponse `json:"sales,omitempty"`
	Message string         `json:"message,omitempty"`
}

type customerResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"firstName,omitempty"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type snapshotResponse struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type productResponse struct {
	ID            string `json:"id"`
	Name          string `json:"artikelName"`
	Location      string `json:"lagerPlatz,omitempty"`
	ArticleNumber string `json:"articleNumber,omitempty"`
	Description   string `json:"description,omitempty"`
	Stock         int    `json:"stock"`
	Price         string `json:"price"`
}

type lineResponse struct {
	ProductID   string           `json:"productId"`
	ProductName string           `json:"productName"`
	Quantity    int              `json:"quantity"`
	UnitPrice   string           `json:"unitPrice"`
	LineTotal   string           `json:"lineTotal"`
	Product     *productResponse `json:"product,omitempty"`
}

type saleResponse struct {
	ID               string            `json:"id"`
	CustomerID       string            `json:"customerId"`
	Customer         *customerResponse `json:"customer,omitempty"`
	CustomerSnapshot snapshotResponse  `json:"customerSnapshot"`
	Items            []lineResponse    `json:"items"`
	Subtotal         string            `json:"subtotal"`
	Tax              string            `json:"tax"`
	Total            string            `json:"total"`
	Status           string            `json:"status"`
	Lieferschein     string            `json:"lieferschein"`
	Meta             map[string]any    `json:"meta,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// amount — суммы уходят строкой с двумя знаками, без потери точности.
func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// unitPrice не округляет цену: у неё бывает больше двух знаков.
func unitPrice(d decimal.Decimal) string {
	if d.Round(2).Equal(d) {
		return d.StringFixed(2)
	}
	return d.String()
}

func toSaleResponse(details domain.SaleDetails) saleResponse {
	sale := details.Sale
	resp := saleResponse{
		ID:         sale.ID,
		CustomerID: sale.CustomerID,
		CustomerSnapshot: snapshotResponse{
			Name:  sale.Customer.Name,
			Email: sale.Customer.Email,
			Phone: sale.Customer.Phone,
		},
		Items:        make([]lineResponse, 0, len(sale.Lines)),
		Subtotal:     amount(sale.Subtotal),
		Tax:          amount(sale.Tax),
		Total:        amount(sale.Total),
		Status:       string(sale.Status),
		Lieferschein: sale.Lieferschein,
		Meta:         sale.Meta,
		Version:      sale.Version,
		CreatedAt:    sale.CreatedAt,
		UpdatedAt:    sale.UpdatedAt,
	}

	if c := details.Customer; c != nil {
		resp.Customer = &customerResponse{
			ID:        c.ID,
			Name:      c.Name,
			FirstName: c.FirstName,
			Email:     c.Email,
			Address:   c.Address,
			Phone:     c.Phone,
		}
	}

	for _, line := range sale.Lines {
		item := lineResponse{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   unitPrice(line.UnitPrice),
			LineTotal:   amount(line.LineTotal),
		}
		if p, ok := details.Products[line.ProductID]; ok {
			item.Product = &productResponse{
				ID:            p.ID,
				Name:          p.Name,
				Location:      p.Location,
				ArticleNumber: p.ArticleNumber,
				Description:   p.Description,
				Stock:         p.Stock,
				Price:         amount(p.Price),
			}
		}
		resp.Items = append(resp.Items, item)
	}

	return resp
}
