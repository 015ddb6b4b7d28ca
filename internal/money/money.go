// Package money считает суммы продажи в фиксированной точке.
//
// Округление одно: half away from zero до двух знаков, и применяется оно на каждом шаге
// агрегации (позиция, подытог, налог, итог), а не только к финальному результату.
package money

import "github.com/shopspring/decimal"

// Places — число знаков после запятой во всех денежных суммах.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round округляет сумму до Places знаков, половину — от нуля.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// LineTotal возвращает round(qty × unitPrice).
func LineTotal(qty int, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}

// Subtotal возвращает round(Σ lineTotals).
func Subtotal(lineTotals []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, lt := range lineTotals {
		sum = sum.Add(lt)
	}
	return Round(sum)
}

// Tax возвращает round(subtotal × percent / 100).
func Tax(subtotal, percent decimal.Decimal) decimal.Decimal {
	return Round(subtotal.Mul(percent).Div(hundred))
}

// Total возвращает round(subtotal + tax).
func Total(subtotal, tax decimal.Decimal) decimal.Decimal {
	return Round(subtotal.Add(tax))
}

// EffectiveTaxPercent восстанавливает процент налога из ранее применённой суммы.
// При нулевом подытоге процент не восстановить, возвращается fallback.
func EffectiveTaxPercent(prevTax, prevSubtotal, fallback decimal.Decimal) decimal.Decimal {
	if prevSubtotal.IsZero() {
		return fallback
	}
	return prevTax.Mul(hundred).Div(prevSubtotal)
}

// Line — вход для расчёта одной позиции.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Totals — результат пошагового расчёта продажи.
type Totals struct {
	LineTotals []decimal.Decimal
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
}

// Compute считает суммы позиций, подытог, налог по проценту и итог.
func Compute(lines []Line, taxPercent decimal.Decimal) Totals {
	lineTotals := make([]decimal.Decimal, 0, len(lines))
	for _, line := range lines {
		lineTotals = append(lineTotals, LineTotal(line.Quantity, line.UnitPrice))
	}

	subtotal := Subtotal(lineTotals)
	tax := Tax(subtotal, taxPercent)

	return Totals{
		LineTotals: lineTotals,
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      Total(subtotal, tax),
	}
}
