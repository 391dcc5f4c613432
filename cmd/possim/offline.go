package main

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

//go:embed offline.json
var offlineFixture []byte

const offlineBaseURL = "http://offline.local"

type fixture struct {
	WarehouseID   string                       `json:"warehouseId"`
	Currencies    json.RawMessage              `json:"currencies"`
	Products      json.RawMessage              `json:"products"`
	SpecialPrices map[string][]json.RawMessage `json:"specialPrices"`
	Orders        map[string]json.RawMessage   `json:"orders"`
}

func loadFixture(data []byte) (*fixture, error) {
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode offline fixture: %w", err)
	}
	if strings.TrimSpace(f.WarehouseID) == "" {
		return nil, fmt.Errorf("offline fixture has no warehouseId")
	}
	return &f, nil
}

// offlineBackend answers the backend API from the embedded fixture so a
// scenario can be priced and settled without a running backend.
type offlineBackend struct {
	f       *fixture
	receipt atomic.Int64
}

func (o *offlineBackend) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
	}
	status, body := o.route(req.Method, strings.Trim(req.URL.Path, "/"))
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}, nil
}

func (o *offlineBackend) route(method, path string) (int, []byte) {
	parts := strings.Split(path, "/")
	switch {
	case method == http.MethodGet && path == "currencies":
		return data(o.f.Currencies)
	case method == http.MethodGet && path == "products":
		return data(o.f.Products)
	case len(parts) == 3 && parts[0] == "customers" && parts[2] == "special-prices":
		if method == http.MethodPut {
			return http.StatusNoContent, nil
		}
		rows := o.f.SpecialPrices[parts[1]]
		if rows == nil {
			rows = []json.RawMessage{}
		}
		raw, _ := json.Marshal(rows)
		return data(raw)
	case method == http.MethodGet && len(parts) == 3 && parts[0] == "orders" && parts[2] == "returnable":
		order, ok := o.f.Orders[parts[1]]
		if !ok {
			return failure(http.StatusNotFound, "NOT_FOUND", "order "+parts[1]+" not found")
		}
		return data(order)
	case method == http.MethodPost && (path == "sales" || path == "returns"):
		n := o.receipt.Add(1)
		receipt, _ := json.Marshal(map[string]string{
			"id":     uuid.NewString(),
			"number": fmt.Sprintf("OFF-%04d", n),
		})
		return data(receipt)
	default:
		return failure(http.StatusNotFound, "NOT_FOUND", method+" /"+path+" is not served offline")
	}
}

func data(raw json.RawMessage) (int, []byte) {
	body, _ := json.Marshal(map[string]json.RawMessage{"data": raw})
	return http.StatusOK, body
}

func failure(status int, code, message string) (int, []byte) {
	body, _ := json.Marshal(map[string]any{"error": map[string]string{"code": code, "message": message}})
	return status, body
}
