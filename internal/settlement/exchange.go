package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/obs"
)

var (
	// ErrRefundMethodRequired is returned when a refund is owed but no refund method was chosen.
	ErrRefundMethodRequired = errors.New("settlement: refund method required")
	// ErrPaymentTypeRequired is returned when the customer owes more but no payment type was chosen.
	ErrPaymentTypeRequired = errors.New("settlement: payment type required")
	// ErrInvalidRefundMethod is returned for refund methods outside the allowed set.
	ErrInvalidRefundMethod = errors.New("settlement: invalid refund method")
)

// Direction is who owes whom after a return or exchange.
type Direction string

const (
	DirectionRefund  Direction = "refund"
	DirectionPayment Direction = "payment"
	DirectionEven    Direction = "even"
)

// RefundMethod is how money flows back to the customer.
type RefundMethod string

const (
	RefundCash        RefundMethod = "cash"
	RefundStoreCredit RefundMethod = "store_credit"
)

// MethodNone is recorded for even exchanges, where no money moves.
const MethodNone = "none"

// ParseRefundMethod validates a wire refund method. Empty input yields an empty method.
func ParseRefundMethod(raw string) (RefundMethod, error) {
	switch m := RefundMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case "", RefundCash, RefundStoreCredit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRefundMethod, raw)
	}
}

// ReturnExchangeSettlement nets returned goods against exchange goods in base
// currency. A negative NetAmount is a refund owed to the customer.
type ReturnExchangeSettlement struct {
	Currency      string          `json:"currency"`
	ReturnTotal   decimal.Decimal `json:"returnTotal"`
	ExchangeTotal decimal.Decimal `json:"exchangeTotal"`
	NetAmount     decimal.Decimal `json:"netAmount"`
	Direction     Direction       `json:"direction"`
}

// AmountDue is the absolute amount that changes hands.
func (s ReturnExchangeSettlement) AmountDue() decimal.Decimal {
	return s.NetAmount.Abs()
}

// Method is the resolved way the net amount is settled.
type Method struct {
	RefundMethod RefundMethod `json:"refundMethod,omitempty"`
	PaymentType  PaymentType  `json:"paymentType,omitempty"`
	// Recorded is the single value persisted for audit: the refund method,
	// the payment type, or "none" for an even exchange.
	Recorded string `json:"recorded"`
}

// ResolveMethod checks that the inputs required by the direction are present.
// Refunds need a refund method, payments need cash or credit, and even
// exchanges need neither.
func (s ReturnExchangeSettlement) ResolveMethod(refund RefundMethod, pt PaymentType) (Method, error) {
	switch s.Direction {
	case DirectionRefund:
		if refund == "" {
			return Method{}, ErrRefundMethodRequired
		}
		if _, err := ParseRefundMethod(string(refund)); err != nil {
			return Method{}, err
		}
		return Method{RefundMethod: refund, Recorded: string(refund)}, nil
	case DirectionPayment:
		if pt == "" {
			return Method{}, ErrPaymentTypeRequired
		}
		if pt != PaymentCash && pt != PaymentCredit {
			return Method{}, fmt.Errorf("%w: %q not allowed for exchange payments", ErrInvalidPaymentType, pt)
		}
		return Method{PaymentType: pt, Recorded: string(pt)}, nil
	default:
		return Method{Recorded: MethodNone}, nil
	}
}

// ComputeReturnExchange values returned lines at the effective price of the
// original sale and exchange lines at their cart price, both in base currency.
// Every return line is checked against its returnable cap first, and lines
// naming the same order item are capped together.
func ComputeReturnExchange(ctx context.Context, table *currency.Table, returns []ReturnLine, exchange []cart.Line) (ReturnExchangeSettlement, error) {
	if len(returns) == 0 && len(exchange) == 0 {
		return ReturnExchangeSettlement{}, ErrEmptySettlement
	}
	if err := checkReturnCaps(returns); err != nil {
		obs.IncReturnRejection("over_return")
		return ReturnExchangeSettlement{}, err
	}
	returnTotal := decimal.Zero
	for _, l := range returns {
		returnTotal = returnTotal.Add(table.ToBaseLenient(ctx, l.Total(), l.Item.Currency))
	}
	exchangeTotal := cart.Summarize(ctx, table, exchange).GrandTotalBase
	net := exchangeTotal.Sub(returnTotal)

	out := ReturnExchangeSettlement{
		Currency:      table.Base(),
		ReturnTotal:   returnTotal,
		ExchangeTotal: exchangeTotal,
		NetAmount:     net,
		Direction:     DirectionEven,
	}
	switch {
	case net.IsNegative():
		out.Direction = DirectionRefund
	case net.IsPositive():
		out.Direction = DirectionPayment
	}
	obs.IncSettlement("return", string(out.Direction))
	return out, nil
}

func checkReturnCaps(returns []ReturnLine) error {
	wanted := make(map[string]int, len(returns))
	for _, l := range returns {
		if err := l.Validate(); err != nil {
			return err
		}
		id := l.Item.OrderItemID
		wanted[id] += l.Quantity
		if left := l.Item.MaxReturnable(); wanted[id] > left {
			return fmt.Errorf("%w: item %s wants %d across lines, %d left", ErrOverReturn, id, wanted[id], left)
		}
	}
	return nil
}
