package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/pos-settlement/internal/catalog"
	"github.com/noah-isme/pos-settlement/internal/checkout"
	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

// IdempotencyHeader carries the submission key so the backend can drop
// replays of a sale it already recorded.
const IdempotencyHeader = "Idempotency-Key"

// FetchCurrencies returns the configured currencies.
func (c *Client) FetchCurrencies(ctx context.Context) ([]currency.Currency, error) {
	var rows []currencyDTO
	if err := c.call(ctx, http.MethodGet, "/currencies", nil, nil, nil, &rows); err != nil {
		return nil, err
	}
	if err := checkAll(c, "currencies", rows); err != nil {
		return nil, err
	}
	out := make([]currency.Currency, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// FetchProducts returns the catalog stocked by a warehouse.
func (c *Client) FetchProducts(ctx context.Context, warehouseID string) ([]pricing.Product, error) {
	q := url.Values{}
	if id := strings.TrimSpace(warehouseID); id != "" {
		q.Set("warehouseId", id)
	}
	var rows []productDTO
	if err := c.call(ctx, http.MethodGet, "/products", q, nil, nil, &rows); err != nil {
		return nil, err
	}
	if err := checkAll(c, "products", rows); err != nil {
		return nil, err
	}
	out := make([]pricing.Product, 0, len(rows))
	for _, r := range rows {
		p := r.toDomain()
		if err := p.Validate(); err != nil {
			return nil, common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadGateway, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// FetchSpecialPrices returns the special price rows of one customer.
func (c *Client) FetchSpecialPrices(ctx context.Context, customerID string) ([]pricing.SpecialPriceRow, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	var rows []specialPriceDTO
	path := "/customers/" + url.PathEscape(customerID) + "/special-prices"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]pricing.SpecialPriceRow, 0, len(rows))
	for i, r := range rows {
		if r.CustomerID == "" {
			r.CustomerID = customerID
		}
		if err := c.check(fmt.Sprintf("special prices[%d]", i), r, http.StatusBadGateway); err != nil {
			return nil, err
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}

// SaveSpecialPrice stores a cashier override as the customer's special
// price for that product unit.
func (c *Client) SaveSpecialPrice(ctx context.Context, sp pricing.SpecialPrice) error {
	body := specialPriceFrom(sp)
	if err := c.check("special price", body, http.StatusUnprocessableEntity); err != nil {
		return err
	}
	path := "/customers/" + url.PathEscape(sp.CustomerID) + "/special-prices"
	return c.call(ctx, http.MethodPut, path, nil, nil, body, nil)
}

// FetchOriginalOrder loads a past sale with the quantities still returnable.
func (c *Client) FetchOriginalOrder(ctx context.Context, orderID string) (checkout.OriginalOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return checkout.OriginalOrder{}, common.NewAppError(common.CodeValidation, "order id is required", http.StatusUnprocessableEntity, nil)
	}
	var dto orderDTO
	path := "/orders/" + url.PathEscape(orderID) + "/returnable"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, nil, &dto); err != nil {
		return checkout.OriginalOrder{}, err
	}
	if err := c.check("order", dto, http.StatusBadGateway); err != nil {
		return checkout.OriginalOrder{}, err
	}
	order, err := dto.toDomain()
	if err != nil {
		return checkout.OriginalOrder{}, common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadGateway, err)
	}
	return order, nil
}

// SubmitSale records a sale.
func (c *Client) SubmitSale(ctx context.Context, key string, p checkout.SalePayload) (checkout.Receipt, error) {
	if err := c.check("sale payload", p, http.StatusUnprocessableEntity); err != nil {
		return checkout.Receipt{}, err
	}
	return c.submit(ctx, "/sales", key, p)
}

// SubmitReturn records a return or exchange.
func (c *Client) SubmitReturn(ctx context.Context, key string, p checkout.ReturnPayload) (checkout.Receipt, error) {
	if err := c.check("return payload", p, http.StatusUnprocessableEntity); err != nil {
		return checkout.Receipt{}, err
	}
	return c.submit(ctx, "/returns", key, p)
}

func (c *Client) submit(ctx context.Context, path, key string, body any) (checkout.Receipt, error) {
	headers := http.Header{}
	if key != "" {
		headers.Set(IdempotencyHeader, key)
	}
	var dto receiptDTO
	if err := c.call(ctx, http.MethodPost, path, nil, headers, body, &dto); err != nil {
		return checkout.Receipt{}, err
	}
	if err := c.check("receipt", dto, http.StatusBadGateway); err != nil {
		return checkout.Receipt{}, err
	}
	return checkout.Receipt{ID: dto.ID, Number: dto.Number}, nil
}

var (
	_ catalog.Source           = (*Client)(nil)
	_ checkout.SaleSubmitter   = (*Client)(nil)
	_ checkout.ReturnSubmitter = (*Client)(nil)
	_ checkout.PriceSaver      = (*Client)(nil)
	_ checkout.OrderSource     = (*Client)(nil)
)
