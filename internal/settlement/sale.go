package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/payment"
)

var (
	// ErrInvalidPaymentType is returned for payment types outside the allowed set.
	ErrInvalidPaymentType = errors.New("settlement: invalid payment type")
	// ErrEmptySettlement is returned when there is nothing to settle.
	ErrEmptySettlement = errors.New("settlement: nothing to settle")
)

// PaymentType is how a sale (or the extra amount of an exchange) is paid.
type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentCredit PaymentType = "credit"
	PaymentSplit  PaymentType = "split"
)

// ParsePaymentType validates a wire payment type.
func ParsePaymentType(raw string) (PaymentType, error) {
	switch pt := PaymentType(strings.ToLower(strings.TrimSpace(raw))); pt {
	case PaymentCash, PaymentCredit, PaymentSplit:
		return pt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentType, raw)
	}
}

// SaleSettlement is the payment outcome of a sale, in base currency.
//
// PaidAmount is the part of the tender applied to the sale, so
// PaidAmount+DebtAmount always equals EffectiveTotal. Anything tendered
// beyond the total is ChangeAmount.
type SaleSettlement struct {
	PaymentType      PaymentType         `json:"paymentType"`
	Currency         string              `json:"currency"`
	EffectiveTotal   decimal.Decimal     `json:"effectiveTotal"`
	TenderedAmount   decimal.Decimal     `json:"tenderedAmount"`
	PaidAmount       decimal.Decimal     `json:"paidAmount"`
	DebtAmount       decimal.Decimal     `json:"debtAmount"`
	ChangeAmount     decimal.Decimal     `json:"changeAmount"`
	ShortfallAmount  decimal.Decimal     `json:"shortfallAmount"`
	HasMultiCurrency bool                `json:"hasMultiCurrency"`
	Allocation       *payment.Allocation `json:"allocation,omitempty"`
}

// Status labels the settlement for reporting: paid, partial or credit.
func (s SaleSettlement) Status() string {
	switch {
	case s.PaidAmount.IsZero() && s.DebtAmount.IsPositive():
		return "credit"
	case s.DebtAmount.IsPositive():
		return "partial"
	default:
		return "paid"
	}
}

// ComputeSale settles a cart. Credit sales record the whole total as debt.
// Cash without tenders is a full payment. Split payments, or cash with
// explicit tenders, are allocated through the currency table; an
// insufficient tender becomes debt rather than an error.
func ComputeSale(ctx context.Context, totals cart.Totals, pt PaymentType, tenders []payment.Tender, alloc payment.Allocator) (SaleSettlement, error) {
	if _, err := ParsePaymentType(string(pt)); err != nil {
		return SaleSettlement{}, err
	}
	total := totals.EffectiveTotal()
	out := SaleSettlement{
		PaymentType:      pt,
		Currency:         totals.Base,
		EffectiveTotal:   total,
		TenderedAmount:   decimal.Zero,
		PaidAmount:       decimal.Zero,
		DebtAmount:       decimal.Zero,
		ChangeAmount:     decimal.Zero,
		ShortfallAmount:  decimal.Zero,
		HasMultiCurrency: totals.HasMultiCurrency,
	}

	switch {
	case pt == PaymentCredit:
		out.DebtAmount = total
	case pt == PaymentCash && len(tenders) == 0:
		out.TenderedAmount = total
		out.PaidAmount = total
	default:
		allocation, err := alloc.Allocate(ctx, total, tenders)
		if err != nil {
			return SaleSettlement{}, err
		}
		out.Allocation = &allocation
		out.TenderedAmount = allocation.PaidBase
		out.PaidAmount = decimal.Min(allocation.PaidBase, total)
		out.DebtAmount = total.Sub(out.PaidAmount)
		out.ChangeAmount = allocation.ChangeBase
		out.ShortfallAmount = allocation.ShortfallBase
	}
	if pt == PaymentCredit {
		out.ShortfallAmount = out.DebtAmount
	}
	obs.IncSettlement("sale", out.Status())
	return out, nil
}
