package catalog

import "strings"

func scope(warehouseID string) string {
	warehouseID = strings.TrimSpace(warehouseID)
	if warehouseID == "" {
		return "refdata:default"
	}
	return "refdata:" + warehouseID
}

// KeyCurrencies is the cache key of the currency list.
func KeyCurrencies(warehouseID string) string {
	return scope(warehouseID) + ":currencies"
}

// KeyProducts is the cache key of the product catalog for a warehouse.
func KeyProducts(warehouseID string) string {
	return scope(warehouseID) + ":products"
}

// KeySpecialPrices is the cache key of one customer's special prices.
func KeySpecialPrices(warehouseID, customerID string) string {
	return scope(warehouseID) + ":special:" + strings.TrimSpace(customerID)
}
