package cart

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/currency"
)

// CurrencyTotals aggregates the lines priced in one currency.
type CurrencyTotals struct {
	Currency  string          `json:"currency"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
	TotalBase decimal.Decimal `json:"totalBase"`
}

// Totals summarises a cart per currency and in the base currency.
type Totals struct {
	Base             string           `json:"base"`
	ByCurrency       []CurrencyTotals `json:"byCurrency"`
	GrandTotalBase   decimal.Decimal  `json:"grandTotalBase"`
	DiscountBase     decimal.Decimal  `json:"discountBase"`
	ItemCount        int              `json:"itemCount"`
	LineCount        int              `json:"lineCount"`
	HasMultiCurrency bool             `json:"hasMultiCurrency"`
}

// EffectiveTotal is the amount settlement works against, always in the base
// currency. For a mixed-currency cart this is the converted grand total and
// never the sum of the per-currency totals.
func (t Totals) EffectiveTotal() decimal.Decimal {
	return t.GrandTotalBase
}

// For returns the totals for one currency.
func (t Totals) For(code string) (CurrencyTotals, bool) {
	code = currency.NormalizeCode(code)
	for _, ct := range t.ByCurrency {
		if ct.Currency == code {
			return ct, true
		}
	}
	return CurrencyTotals{}, false
}

// Totals groups the lines by currency and converts each group total into the
// base currency. Unknown currencies use the table's lenient rate 1 fallback.
func (c *Cart) Totals(ctx context.Context, table *currency.Table) Totals {
	return Summarize(ctx, table, c.lines)
}

// Summarize computes Totals over an arbitrary set of lines. The exchange
// basket of a return shares this aggregation.
func Summarize(ctx context.Context, table *currency.Table, lines []Line) Totals {
	base := table.Base()
	out := Totals{
		Base:           base,
		GrandTotalBase: decimal.Zero,
		DiscountBase:   decimal.Zero,
		LineCount:      len(lines),
	}
	index := make(map[string]int)
	for _, l := range lines {
		code := lineCurrency(l, base)
		i, ok := index[code]
		if !ok {
			i = len(out.ByCurrency)
			index[code] = i
			out.ByCurrency = append(out.ByCurrency, CurrencyTotals{
				Currency: code,
				Subtotal: decimal.Zero,
				Discount: decimal.Zero,
				Total:    decimal.Zero,
			})
		}
		ct := &out.ByCurrency[i]
		ct.Subtotal = ct.Subtotal.Add(l.Subtotal())
		ct.Discount = ct.Discount.Add(l.Discount)
		ct.Total = ct.Total.Add(l.Total())
		ct.ItemCount += l.Quantity
		out.ItemCount += l.Quantity
	}
	for i := range out.ByCurrency {
		ct := &out.ByCurrency[i]
		rate := table.RateOrOne(ctx, ct.Currency)
		ct.TotalBase = ct.Total.Div(rate)
		out.GrandTotalBase = out.GrandTotalBase.Add(ct.TotalBase)
		out.DiscountBase = out.DiscountBase.Add(ct.Discount.Div(rate))
	}
	out.HasMultiCurrency = len(out.ByCurrency) > 1
	return out
}
