package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/checkout"
	"github.com/noah-isme/pos-settlement/internal/payment"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

// scenario describes one register transaction to replay.
type scenario struct {
	Kind         string           `json:"kind" validate:"required,oneof=sale return"`
	Customer     *customerInput   `json:"customer"`
	Lines        []lineInput      `json:"lines" validate:"required_if=Kind sale,dive"`
	PaymentType  string           `json:"paymentType"`
	Tenders      []payment.Tender `json:"tenders"`
	Suggest      []string         `json:"suggest"`
	OrderID      string           `json:"orderId" validate:"required_if=Kind return"`
	Returns      []returnInput    `json:"returns" validate:"dive"`
	Exchange     []lineInput      `json:"exchange" validate:"dive"`
	RefundMethod string           `json:"refundMethod"`
}

type customerInput struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name"`
	CustomerType string `json:"customerType"`
}

type lineInput struct {
	ProductID string           `json:"productId" validate:"required"`
	VariantID string           `json:"variantId"`
	Unit      string           `json:"unit"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Discount  *decimal.Decimal `json:"discount"`
	Price     *decimal.Decimal `json:"price"`
}

type returnInput struct {
	OrderItemID string `json:"orderItemId" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Reason      string `json:"reason"`
	Condition   string `json:"condition"`
	Action      string `json:"inventoryAction"`
}

func parseScenario(r io.Reader) (scenario, error) {
	var sc scenario
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(sc); err != nil {
		return scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}
	return sc, nil
}

// result is what the simulator prints for a scenario.
type result struct {
	Kind             string                     `json:"kind"`
	Settlement       any                        `json:"settlement"`
	Method           *settlement.Method         `json:"method,omitempty"`
	SuggestedTenders map[string]decimal.Decimal `json:"suggestedTenders,omitempty"`
	Payload          any                        `json:"payload"`
	Receipt          *checkout.Receipt          `json:"receipt,omitempty"`
}

type runner struct {
	settings checkout.Settings
	loader   checkout.Loader
	orders   checkout.OrderSource
	sales    checkout.SaleSubmitter
	returns  checkout.ReturnSubmitter
	opts     []checkout.Option
	logger   zerolog.Logger
	submit   bool
}

func (r runner) run(ctx context.Context, sc scenario) (result, error) {
	if sc.Kind == "return" {
		return r.runReturn(ctx, sc)
	}
	return r.runSale(ctx, sc)
}

func (r runner) runSale(ctx context.Context, sc scenario) (result, error) {
	s, err := checkout.NewSession(r.settings, r.opts...)
	if err != nil {
		return result{}, err
	}
	if sc.Customer != nil {
		if err := s.SelectCustomer(ctx, &pricing.Customer{ID: sc.Customer.ID, Name: sc.Customer.Name, CustomerType: sc.Customer.CustomerType}); err != nil {
			return result{}, err
		}
	}
	if err := r.loader.LoadSale(ctx, s); err != nil {
		return result{}, fmt.Errorf("load reference data: %w", err)
	}
	for i, in := range sc.Lines {
		unit, err := pricing.ParseUnitType(in.Unit)
		if err != nil {
			return result{}, fmt.Errorf("line %d: %w", i, err)
		}
		change, err := s.AddProduct(in.ProductID, in.VariantID, unit, in.Quantity)
		if err != nil {
			return result{}, fmt.Errorf("line %d: %w", i, err)
		}
		if in.Price != nil {
			_, err := s.OverrideLinePrice(ctx, change.Line.ID, *in.Price)
			switch {
			case errors.Is(err, checkout.ErrPriceNotSaved):
				r.logger.Warn().Err(err).Str("product_id", in.ProductID).Msg("override_not_saved")
			case err != nil:
				return result{}, fmt.Errorf("line %d: %w", i, err)
			}
		}
		if in.Discount != nil {
			if _, err := s.UpdateDiscount(change.Line.ID, *in.Discount); err != nil {
				return result{}, fmt.Errorf("line %d: %w", i, err)
			}
		}
	}

	pt, err := settlement.ParsePaymentType(sc.PaymentType)
	if err != nil {
		return result{}, err
	}
	out := result{Kind: sc.Kind}
	if len(sc.Suggest) > 0 {
		if out.SuggestedTenders, err = s.SuggestTenders(ctx, sc.Suggest); err != nil {
			return result{}, err
		}
	}
	payload, st, err := s.BuildSalePayload(ctx, pt, sc.Tenders)
	if err != nil {
		return result{}, err
	}
	out.Settlement, out.Payload = st, payload
	if !r.submit {
		return out, nil
	}
	receipt, _, err := s.Submit(ctx, r.sales, pt, sc.Tenders)
	if err != nil {
		return result{}, err
	}
	out.Receipt = &receipt
	return out, nil
}

func (r runner) runReturn(ctx context.Context, sc scenario) (result, error) {
	rs, err := checkout.NewReturnSession(r.settings, r.opts...)
	if err != nil {
		return result{}, err
	}
	if _, err := r.loader.LoadReturn(ctx, rs, r.orders, sc.OrderID); err != nil {
		return result{}, fmt.Errorf("load order %s: %w", sc.OrderID, err)
	}
	for _, in := range sc.Returns {
		line, err := rs.AddToReturnBasket(in.OrderItemID)
		if err != nil {
			return result{}, err
		}
		if in.Quantity > 0 {
			if line, err = rs.UpdateReturnQuantity(in.OrderItemID, in.Quantity); err != nil {
				return result{}, err
			}
		}
		if in.Reason == "" && in.Condition == "" && in.Action == "" {
			continue
		}
		reason, condition, action := line.Reason, line.Condition, line.InventoryAction
		if in.Reason != "" {
			if reason, err = settlement.ParseReason(in.Reason); err != nil {
				return result{}, err
			}
		}
		if in.Condition != "" {
			if condition, err = settlement.ParseCondition(in.Condition); err != nil {
				return result{}, err
			}
		}
		if in.Action != "" {
			if action, err = settlement.ParseInventoryAction(in.Action); err != nil {
				return result{}, err
			}
		}
		if _, err := rs.SetReturnDetails(in.OrderItemID, reason, condition, action); err != nil {
			return result{}, err
		}
	}
	for i, in := range sc.Exchange {
		unit, err := pricing.ParseUnitType(in.Unit)
		if err != nil {
			return result{}, fmt.Errorf("exchange line %d: %w", i, err)
		}
		if _, err := rs.AddToExchangeBasket(in.ProductID, in.VariantID, unit, in.Quantity); err != nil {
			return result{}, fmt.Errorf("exchange line %d: %w", i, err)
		}
	}

	refund, err := settlement.ParseRefundMethod(sc.RefundMethod)
	if err != nil {
		return result{}, err
	}
	var pt settlement.PaymentType
	if sc.PaymentType != "" {
		if pt, err = settlement.ParsePaymentType(sc.PaymentType); err != nil {
			return result{}, err
		}
	}
	payload, st, err := rs.BuildPayload(ctx, refund, pt)
	if err != nil {
		return result{}, err
	}
	method := settlement.Method{
		RefundMethod: payload.RefundMethod,
		PaymentType:  payload.PaymentMethod,
		Recorded:     payload.SettlementMethod,
	}
	out := result{Kind: sc.Kind, Settlement: st, Method: &method, Payload: payload}
	if !r.submit {
		return out, nil
	}
	receipt, _, err := rs.Submit(ctx, r.returns, refund, pt)
	if err != nil {
		return result{}, err
	}
	out.Receipt = &receipt
	return out, nil
}
