package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/backend"
	"github.com/noah-isme/pos-settlement/internal/checkout"
	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/resilience"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

func newClient(t *testing.T, h http.Handler, hc resilience.HTTPClient) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := backend.New(srv.URL+"/api", hc, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := backend.New("ftp://example.com", resilience.HTTPClient{}, zerolog.Nop())
	require.Error(t, err)
	_, err = backend.New("http://", resilience.HTTPClient{}, zerolog.Nop())
	require.Error(t, err)
}

func TestFetchReferenceData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/currencies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"code": "USD", "exchangeRate": 1, "isBase": true, "isActive": true},
			{"code": "LBP", "exchangeRate": "89500", "isActive": true},
		}})
	})
	mux.HandleFunc("GET /api/products", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("warehouseId") != "wh-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "warehouseId required"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id": "soap", "name": "Soap", "baseUnit": "piece", "secondUnit": "box", "unitsPerSecond": 12,
			"retailPrice": "1.5", "wholesalePrice": 1.2, "boxRetailPrice": 16, "boxWholesalePrice": 13,
			"costPrice": 1, "boxCostPrice": 11, "currency": "usd",
		}})
	})
	mux.HandleFunc("GET /api/customers/c-1/special-prices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"productId": "soap", "specialPrice": "1.1", "hasSpecialPrice": true, "hasBoxSpecialPrice": false},
		}})
	})
	c := newClient(t, mux, resilience.HTTPClient{})
	ctx := context.Background()

	list, err := c.FetchCurrencies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[1].ExchangeRate.Equal(decimal.NewFromInt(89500)))

	products, err := c.FetchProducts(ctx, "wh-1")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "USD", products[0].Currency)
	require.True(t, products[0].WholesalePrice.Equal(decimal.RequireFromString("1.2")))

	rows, err := c.FetchSpecialPrices(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "c-1", rows[0].CustomerID)
	require.Len(t, rows[0].Entries(), 1)

	rows, err = c.FetchSpecialPrices(ctx, " ")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestFetchProductsRejectsInvalidRows(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"name": "nameless", "retailPrice": 1}})
	})
	c := newClient(t, h, resilience.HTTPClient{})
	_, err := c.FetchProducts(context.Background(), "wh-1")
	var app *common.AppError
	require.ErrorAs(t, err, &app)
	require.Equal(t, common.CodeValidation, app.Code)
	require.Contains(t, app.Message, "id is required")
}

func TestFetchOriginalOrder(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/o-1/returnable" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"id": "o-1", "orderNumber": "S-1",
			"customer": map[string]any{"id": "c-1", "customerType": "Wholesale"},
			"items": []map[string]any{
				{"id": "oi-1", "productId": "soap", "unitType": "piece", "quantity": 4, "returnableQty": 3, "unitPrice": "10", "discount": "6", "currency": "USD"},
			},
		}})
	})
	c := newClient(t, h, resilience.HTTPClient{})
	order, err := c.FetchOriginalOrder(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, "S-1", order.Number)
	require.True(t, order.Customer.IsWholesale())
	require.Len(t, order.Items, 1)
	require.Equal(t, 1, order.Items[0].ReturnedQuantity)
	require.Equal(t, 3, order.Items[0].MaxReturnable())

	_, err = c.FetchOriginalOrder(context.Background(), "")
	require.Error(t, err)
}

func TestFetchOriginalOrderRejectsExcessReturnable(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "o-1",
			"items": []map[string]any{
				{"id": "oi-1", "productId": "soap", "quantity": 2, "returnableQty": 5},
			},
		})
	})
	c := newClient(t, h, resilience.HTTPClient{})
	_, err := c.FetchOriginalOrder(context.Background(), "o-1")
	require.Equal(t, common.CodeValidation, common.CodeOf(err))
}

func salePayload() checkout.SalePayload {
	return checkout.SalePayload{
		WarehouseID: "wh-1",
		PaymentType: settlement.PaymentCash,
		Currency:    "USD",
		TotalAmount: decimal.NewFromInt(20),
		PaidAmount:  decimal.NewFromInt(20),
		Items: []checkout.SaleItem{
			{ProductID: "soap", UnitType: pricing.UnitPiece, Quantity: 2, UnitPrice: decimal.NewFromInt(10), Currency: "USD"},
		},
		PaymentCurrenciesJSON:    "[]",
		ExchangeRateSnapshotJSON: `{"base":"USD"}`,
	}
}

func TestSubmitSaleSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var got checkout.SalePayload
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sales" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get(backend.IdempotencyHeader)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": "order-9", "number": "S-0009"}})
	})
	c := newClient(t, h, resilience.HTTPClient{})

	receipt, err := c.SubmitSale(context.Background(), "key-1", salePayload())
	require.NoError(t, err)
	require.Equal(t, checkout.Receipt{ID: "order-9", Number: "S-0009"}, receipt)
	require.Equal(t, "key-1", gotKey)
	require.True(t, got.TotalAmount.Equal(decimal.NewFromInt(20)))
	require.Len(t, got.Items, 1)
}

func TestSubmitSaleValidatesBeforeSending(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	c := newClient(t, h, resilience.HTTPClient{})

	p := salePayload()
	p.Items = nil
	p.PaymentType = "barter"
	_, err := c.SubmitSale(context.Background(), "k", p)
	var app *common.AppError
	require.ErrorAs(t, err, &app)
	require.Equal(t, common.CodeValidation, app.Code)
	require.Contains(t, app.Message, "items")
	require.Contains(t, app.Message, "paymentType must be one of")
	require.Zero(t, calls.Load())
}

func TestBackendMessageIsSurfaced(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]any{"code": "CREDIT_LIMIT", "message": "customer credit limit reached"},
		})
	})
	c := newClient(t, h, resilience.HTTPClient{MaxAttempts: 3})
	_, err := c.SubmitSale(context.Background(), "k", salePayload())
	var app *common.AppError
	require.ErrorAs(t, err, &app)
	require.Equal(t, common.CodeBackend, app.Code)
	require.Equal(t, "customer credit limit reached", app.Message)
	require.Equal(t, http.StatusUnprocessableEntity, app.HTTPStatus)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]any{"message": "upstream"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": "ret-1"})
	})
	c := newClient(t, h, resilience.HTTPClient{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	receipt, err := c.SubmitReturn(context.Background(), "k", checkout.ReturnPayload{
		OriginalOrderID:          "o-1",
		WarehouseID:              "wh-1",
		SettlementMethod:         "cash",
		Direction:                settlement.DirectionRefund,
		Currency:                 "USD",
		ExchangeRateSnapshotJSON: "{}",
	})
	require.NoError(t, err)
	require.Equal(t, "ret-1", receipt.ID)
	require.EqualValues(t, 3, calls.Load())
}

func TestOpenBreakerIsUnavailable(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "backend-test", MinRequests: 1, OpenFor: time.Minute}, zerolog.Nop())
	c := newClient(t, h, resilience.HTTPClient{Breaker: breaker, MaxAttempts: 1})
	ctx := context.Background()

	_, err := c.FetchCurrencies(ctx)
	require.Equal(t, common.CodeBackend, common.CodeOf(err))

	_, err = c.FetchCurrencies(ctx)
	var app *common.AppError
	require.ErrorAs(t, err, &app)
	require.Equal(t, common.CodeBackendUnavailable, app.Code)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestSaveSpecialPrice(t *testing.T) {
	var got map[string]any
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/customers/c-1/special-prices" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newClient(t, h, resilience.HTTPClient{})
	err := c.SaveSpecialPrice(context.Background(), pricing.SpecialPrice{
		CustomerID: "c-1", ProductID: "soap", UnitType: pricing.UnitBox, Price: decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	require.Equal(t, true, got["hasBoxSpecialPrice"])
	require.Equal(t, "12", got["boxSpecialPrice"])
	require.NotContains(t, got, "specialPrice")

	err = c.SaveSpecialPrice(context.Background(), pricing.SpecialPrice{ProductID: "soap"})
	require.Equal(t, common.CodeValidation, common.CodeOf(err))
}
