package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/currency"
)

// ErrNegativeTender is returned when a tendered amount is below zero.
var ErrNegativeTender = errors.New("payment: tendered amount must not be negative")

// Tender is an amount of one currency offered by the customer.
type Tender struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// ConvertedTender is a tender together with its base currency value.
type ConvertedTender struct {
	Tender
	Rate       decimal.Decimal `json:"rate"`
	AmountBase decimal.Decimal `json:"amountBase"`
}

// Allocation is the outcome of applying tenders against a required amount.
// At most one of ChangeBase and ShortfallBase is positive.
type Allocation struct {
	RequiredBase  decimal.Decimal   `json:"requiredBase"`
	PaidBase      decimal.Decimal   `json:"paidBase"`
	ChangeBase    decimal.Decimal   `json:"changeBase"`
	ShortfallBase decimal.Decimal   `json:"shortfallBase"`
	Tenders       []ConvertedTender `json:"tenders"`
}

// Covered reports whether the tenders pay the required amount in full.
func (a Allocation) Covered() bool {
	return !a.ShortfallBase.IsPositive()
}

// Allocator converts tenders through the session's currency table.
type Allocator struct {
	Table *currency.Table
}

// Allocate sums the tenders in base currency and derives change or shortfall
// against requiredBase. Tenders in the same currency are combined; zero
// tenders are dropped. Unknown currencies use the table's rate 1 fallback.
func (a Allocator) Allocate(ctx context.Context, requiredBase decimal.Decimal, tenders []Tender) (Allocation, error) {
	if a.Table == nil {
		return Allocation{}, errors.New("payment: currency table not configured")
	}
	merged, err := mergeTenders(tenders)
	if err != nil {
		return Allocation{}, err
	}
	out := Allocation{
		RequiredBase:  requiredBase,
		PaidBase:      decimal.Zero,
		ChangeBase:    decimal.Zero,
		ShortfallBase: decimal.Zero,
		Tenders:       make([]ConvertedTender, 0, len(merged)),
	}
	for _, t := range merged {
		rate := a.Table.RateOrOne(ctx, t.Currency)
		base := t.Amount.Div(rate)
		out.Tenders = append(out.Tenders, ConvertedTender{Tender: t, Rate: rate, AmountBase: base})
		out.PaidBase = out.PaidBase.Add(base)
	}
	diff := out.PaidBase.Sub(requiredBase)
	if diff.IsPositive() {
		out.ChangeBase = diff
	} else if diff.IsNegative() {
		out.ShortfallBase = diff.Neg()
	}
	return out, nil
}

// SuggestedAmount converts the required base amount into code. The UI uses it
// to pre-fill a tender input; it does not constrain what may be entered.
func (a Allocator) SuggestedAmount(ctx context.Context, requiredBase decimal.Decimal, code string) decimal.Decimal {
	if a.Table == nil {
		return requiredBase
	}
	return a.Table.FromBaseLenient(ctx, requiredBase, code)
}

// SuggestDefaults pre-fills tender inputs for the selected currencies. Only a
// single selected non-base currency gets a suggestion; any other selection
// returns an empty map and leaves entry to the cashier.
func (a Allocator) SuggestDefaults(ctx context.Context, requiredBase decimal.Decimal, selected []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	if len(selected) != 1 || a.Table == nil {
		return out
	}
	code := currency.NormalizeCode(selected[0])
	if a.Table.IsBase(code) {
		return out
	}
	out[code] = a.SuggestedAmount(ctx, requiredBase, code)
	return out
}

func mergeTenders(tenders []Tender) ([]Tender, error) {
	sums := make(map[string]decimal.Decimal, len(tenders))
	var order []string
	for _, t := range tenders {
		if t.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: %s %s", ErrNegativeTender, t.Currency, t.Amount)
		}
		code := currency.NormalizeCode(t.Currency)
		if _, ok := sums[code]; !ok {
			order = append(order, code)
			sums[code] = decimal.Zero
		}
		sums[code] = sums[code].Add(t.Amount)
	}
	out := make([]Tender, 0, len(order))
	for _, code := range order {
		if sums[code].IsZero() {
			continue
		}
		out = append(out, Tender{Currency: code, Amount: sums[code]})
	}
	return out, nil
}

// Tenders converts a currency to amount map into tenders ordered by code.
func Tenders(amounts map[string]decimal.Decimal) []Tender {
	codes := make([]string, 0, len(amounts))
	for code := range amounts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]Tender, 0, len(codes))
	for _, code := range codes {
		out = append(out, Tender{Currency: code, Amount: amounts[code]})
	}
	return out
}
