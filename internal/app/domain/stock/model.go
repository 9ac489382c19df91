// Package stock defines the ledger's read-only view of on-hand quantity.
package stock

// Level is current availability of one variant at one warehouse.
type Level struct {
	VariantID   string
	WarehouseID string
	Available   int
}
