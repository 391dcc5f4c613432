package backend

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/checkout"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

type currencyDTO struct {
	Code         string          `json:"code" validate:"required,min=2,max=8"`
	Symbol       string          `json:"symbol"`
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
	IsBase       bool            `json:"isBase"`
	IsActive     bool            `json:"isActive"`
}

func (d currencyDTO) toDomain() currency.Currency {
	return currency.Currency{
		Code:         d.Code,
		Symbol:       d.Symbol,
		ExchangeRate: d.ExchangeRate,
		IsBase:       d.IsBase,
		IsActive:     d.IsActive,
	}
}

type productDTO struct {
	ID                string          `json:"id" validate:"required"`
	Name              string          `json:"name"`
	BaseUnit          string          `json:"baseUnit"`
	SecondUnit        string          `json:"secondUnit"`
	UnitsPerSecond    int             `json:"unitsPerSecond" validate:"gte=0"`
	RetailPrice       decimal.Decimal `json:"retailPrice"`
	WholesalePrice    decimal.Decimal `json:"wholesalePrice"`
	BoxRetailPrice    decimal.Decimal `json:"boxRetailPrice"`
	BoxWholesalePrice decimal.Decimal `json:"boxWholesalePrice"`
	CostPrice         decimal.Decimal `json:"costPrice"`
	BoxCostPrice      decimal.Decimal `json:"boxCostPrice"`
	Currency          string          `json:"currency"`
}

func (d productDTO) toDomain() pricing.Product {
	return pricing.Product{
		ID:                d.ID,
		Name:              d.Name,
		BaseUnit:          d.BaseUnit,
		SecondUnit:        d.SecondUnit,
		UnitsPerSecond:    d.UnitsPerSecond,
		RetailPrice:       d.RetailPrice,
		WholesalePrice:    d.WholesalePrice,
		BoxRetailPrice:    d.BoxRetailPrice,
		BoxWholesalePrice: d.BoxWholesalePrice,
		CostPrice:         d.CostPrice,
		BoxCostPrice:      d.BoxCostPrice,
		Currency:          currency.NormalizeCode(d.Currency),
	}
}

// specialPriceDTO is the backend's per-product special price row. It is
// also the body used to save a single override.
type specialPriceDTO struct {
	CustomerID         string           `json:"customerId" validate:"required"`
	ProductID          string           `json:"productId" validate:"required"`
	SpecialPrice       *decimal.Decimal `json:"specialPrice,omitempty"`
	HasSpecialPrice    bool             `json:"hasSpecialPrice"`
	BoxSpecialPrice    *decimal.Decimal `json:"boxSpecialPrice,omitempty"`
	HasBoxSpecialPrice bool             `json:"hasBoxSpecialPrice"`
}

func (d specialPriceDTO) toDomain() pricing.SpecialPriceRow {
	return pricing.SpecialPriceRow{
		CustomerID:         d.CustomerID,
		ProductID:          d.ProductID,
		SpecialPrice:       d.SpecialPrice,
		HasSpecialPrice:    d.HasSpecialPrice,
		BoxSpecialPrice:    d.BoxSpecialPrice,
		HasBoxSpecialPrice: d.HasBoxSpecialPrice,
	}
}

func specialPriceFrom(sp pricing.SpecialPrice) specialPriceDTO {
	price := sp.Price
	out := specialPriceDTO{CustomerID: sp.CustomerID, ProductID: sp.ProductID}
	if sp.UnitType == pricing.UnitBox {
		out.BoxSpecialPrice = &price
		out.HasBoxSpecialPrice = true
	} else {
		out.SpecialPrice = &price
		out.HasSpecialPrice = true
	}
	return out
}

type customerDTO struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name"`
	CustomerType string `json:"customerType"`
}

type orderItemDTO struct {
	ID            string          `json:"id" validate:"required"`
	ProductID     string          `json:"productId" validate:"required"`
	VariantID     string          `json:"variantId"`
	Name          string          `json:"name"`
	UnitType      string          `json:"unitType"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	ReturnableQty int             `json:"returnableQty" validate:"gte=0,ltefield=Quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Discount      decimal.Decimal `json:"discount"`
	Currency      string          `json:"currency"`
}

type orderDTO struct {
	ID       string         `json:"id" validate:"required"`
	Number   string         `json:"orderNumber"`
	Customer *customerDTO   `json:"customer"`
	Items    []orderItemDTO `json:"items" validate:"dive"`
}

func (d orderDTO) toDomain() (checkout.OriginalOrder, error) {
	out := checkout.OriginalOrder{
		ID:     d.ID,
		Number: d.Number,
		Items:  make([]settlement.ReturnableItem, 0, len(d.Items)),
	}
	if d.Customer != nil {
		out.Customer = &pricing.Customer{ID: d.Customer.ID, Name: d.Customer.Name, CustomerType: d.Customer.CustomerType}
	}
	for _, it := range d.Items {
		unit, err := pricing.ParseUnitType(it.UnitType)
		if err != nil {
			return checkout.OriginalOrder{}, err
		}
		out.Items = append(out.Items, settlement.ReturnableItem{
			OrderItemID:      it.ID,
			ProductID:        it.ProductID,
			VariantID:        strings.TrimSpace(it.VariantID),
			Name:             it.Name,
			UnitType:         unit,
			Quantity:         it.Quantity,
			ReturnedQuantity: it.Quantity - it.ReturnableQty,
			UnitPrice:        it.UnitPrice,
			Discount:         it.Discount,
			Currency:         currency.NormalizeCode(it.Currency),
		})
	}
	return out, nil
}

type receiptDTO struct {
	ID     string `json:"id" validate:"required"`
	Number string `json:"number"`
}
