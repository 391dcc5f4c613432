package checkout

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

// SaleItem is one line of a submitted sale or of an exchange basket.
type SaleItem struct {
	ProductID      string           `json:"productId" validate:"required"`
	VariantID      string           `json:"variantId,omitempty"`
	UnitType       pricing.UnitType `json:"unitType" validate:"required,oneof=piece box"`
	Quantity       int              `json:"quantity" validate:"gt=0"`
	UnitPrice      decimal.Decimal  `json:"unitPrice"`
	DiscountAmount decimal.Decimal  `json:"discountAmount"`
	Currency       string           `json:"currency" validate:"required"`
	IsSpecialPrice bool             `json:"isSpecialPrice"`
}

// SalePayload is the body of a sale submission. Amounts are in the base
// currency and rounded to the session's amount scale.
type SalePayload struct {
	CustomerID               string                 `json:"customerId,omitempty"`
	WarehouseID              string                 `json:"warehouseId" validate:"required"`
	RegisterID               string                 `json:"registerId,omitempty"`
	PaymentType              settlement.PaymentType `json:"paymentType" validate:"required,oneof=cash credit split"`
	Currency                 string                 `json:"currency" validate:"required"`
	TotalAmount              decimal.Decimal        `json:"totalAmount"`
	PaidAmount               decimal.Decimal        `json:"paidAmount"`
	DebtAmount               decimal.Decimal        `json:"debtAmount"`
	ChangeAmount             decimal.Decimal        `json:"changeAmount"`
	DiscountAmount           decimal.Decimal        `json:"discountAmount"`
	Items                    []SaleItem             `json:"items" validate:"required,min=1,dive"`
	PaymentCurrenciesJSON    string                 `json:"paymentCurrenciesJson"`
	ExchangeRateSnapshotJSON string                 `json:"exchangeRateSnapshotJson" validate:"required"`
}

// ReturnItem is one returned line of a return submission.
type ReturnItem struct {
	OrderItemID     string                     `json:"orderItemId" validate:"required"`
	ProductID       string                     `json:"productId" validate:"required"`
	VariantID       string                     `json:"variantId,omitempty"`
	UnitType        pricing.UnitType           `json:"unitType" validate:"required,oneof=piece box"`
	Quantity        int                        `json:"quantity" validate:"gt=0"`
	UnitPrice       decimal.Decimal            `json:"unitPrice"`
	TotalAmount     decimal.Decimal            `json:"totalAmount"`
	Currency        string                     `json:"currency"`
	Reason          settlement.Reason          `json:"reason" validate:"required"`
	Condition       settlement.Condition       `json:"condition" validate:"required"`
	InventoryAction settlement.InventoryAction `json:"inventoryAction" validate:"required"`
}

// ReturnPayload is the body of a return or exchange submission.
type ReturnPayload struct {
	OriginalOrderID          string                  `json:"originalOrderId" validate:"required"`
	WarehouseID              string                  `json:"warehouseId" validate:"required"`
	RegisterID               string                  `json:"registerId,omitempty"`
	RefundMethod             settlement.RefundMethod `json:"refundMethod,omitempty"`
	PaymentMethod            settlement.PaymentType  `json:"paymentMethod,omitempty"`
	SettlementMethod         string                  `json:"settlementMethod" validate:"required"`
	Direction                settlement.Direction    `json:"direction" validate:"required,oneof=refund payment even"`
	Currency                 string                  `json:"currency" validate:"required"`
	ReturnTotal              decimal.Decimal         `json:"returnTotal"`
	ExchangeTotal            decimal.Decimal         `json:"exchangeTotal"`
	NetAmount                decimal.Decimal         `json:"netAmount"`
	ReturnItems              []ReturnItem            `json:"returnItems" validate:"dive"`
	ExchangeItems            []SaleItem              `json:"exchangeItems" validate:"dive"`
	ExchangeRateSnapshotJSON string                  `json:"exchangeRateSnapshotJson" validate:"required"`
}

// paymentCurrency is one entry of paymentCurrenciesJson.
type paymentCurrency struct {
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	Rate       decimal.Decimal `json:"rate"`
	AmountBase decimal.Decimal `json:"amountBase"`
}

func saleItems(lines []cart.Line, base string, scale int32) []SaleItem {
	out := make([]SaleItem, 0, len(lines))
	for _, l := range lines {
		code := l.Currency
		if code == "" {
			code = base
		}
		out = append(out, SaleItem{
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			UnitType:       l.UnitType,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice.Round(scale),
			DiscountAmount: l.Discount.Round(scale),
			Currency:       code,
			IsSpecialPrice: l.IsSpecial,
		})
	}
	return out
}

// paymentCurrenciesJSON records what was tendered in each currency. A cash
// sale without explicit tenders is recorded as the paid amount in base.
func paymentCurrenciesJSON(s settlement.SaleSettlement, scale int32) (string, error) {
	entries := []paymentCurrency{}
	switch {
	case s.Allocation != nil:
		for _, t := range s.Allocation.Tenders {
			entries = append(entries, paymentCurrency{
				Currency:   t.Currency,
				Amount:     t.Amount.Round(scale),
				Rate:       t.Rate,
				AmountBase: t.AmountBase.Round(scale),
			})
		}
	case s.PaidAmount.IsPositive():
		one := decimal.NewFromInt(1)
		entries = append(entries, paymentCurrency{
			Currency:   s.Currency,
			Amount:     s.PaidAmount.Round(scale),
			Rate:       one,
			AmountBase: s.PaidAmount.Round(scale),
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode payment currencies: %w", err)
	}
	return string(data), nil
}

func buildSalePayload(settings Settings, customer *pricing.Customer, lines []cart.Line, totals cart.Totals, s settlement.SaleSettlement, snapshot currency.Snapshot) (SalePayload, error) {
	scale := settings.AmountScale
	currencies, err := paymentCurrenciesJSON(s, scale)
	if err != nil {
		return SalePayload{}, err
	}
	rates, err := snapshot.JSON()
	if err != nil {
		return SalePayload{}, err
	}
	out := SalePayload{
		WarehouseID:              settings.WarehouseID,
		RegisterID:               settings.RegisterID,
		PaymentType:              s.PaymentType,
		Currency:                 s.Currency,
		TotalAmount:              s.EffectiveTotal.Round(scale),
		PaidAmount:               s.PaidAmount.Round(scale),
		DebtAmount:               s.DebtAmount.Round(scale),
		ChangeAmount:             s.ChangeAmount.Round(scale),
		DiscountAmount:           totals.DiscountBase.Round(scale),
		Items:                    saleItems(lines, totals.Base, scale),
		PaymentCurrenciesJSON:    currencies,
		ExchangeRateSnapshotJSON: rates,
	}
	if customer != nil {
		out.CustomerID = customer.ID
	}
	// rounding must not break paid + debt == total
	out.DebtAmount = out.TotalAmount.Sub(out.PaidAmount)
	return out, nil
}

func buildReturnPayload(settings Settings, orderID string, returns []settlement.ReturnLine, exchange []cart.Line, s settlement.ReturnExchangeSettlement, m settlement.Method, snapshot currency.Snapshot) (ReturnPayload, error) {
	scale := settings.AmountScale
	rates, err := snapshot.JSON()
	if err != nil {
		return ReturnPayload{}, err
	}
	items := make([]ReturnItem, 0, len(returns))
	for _, l := range returns {
		items = append(items, ReturnItem{
			OrderItemID:     l.Item.OrderItemID,
			ProductID:       l.Item.ProductID,
			VariantID:       l.Item.VariantID,
			UnitType:        l.Item.UnitType,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice().Round(scale),
			TotalAmount:     l.Total().Round(scale),
			Currency:        l.Item.Currency,
			Reason:          l.Reason,
			Condition:       l.Condition,
			InventoryAction: l.InventoryAction,
		})
	}
	return ReturnPayload{
		OriginalOrderID:          orderID,
		WarehouseID:              settings.WarehouseID,
		RegisterID:               settings.RegisterID,
		RefundMethod:             m.RefundMethod,
		PaymentMethod:            m.PaymentType,
		SettlementMethod:         m.Recorded,
		Direction:                s.Direction,
		Currency:                 s.Currency,
		ReturnTotal:              s.ReturnTotal.Round(scale),
		ExchangeTotal:            s.ExchangeTotal.Round(scale),
		NetAmount:                s.NetAmount.Round(scale),
		ReturnItems:              items,
		ExchangeItems:            saleItems(exchange, s.Currency, scale),
		ExchangeRateSnapshotJSON: rates,
	}, nil
}
