// Package order defines the line-item view the engine reads when reserving
// stock. Order creation and pricing live upstream.
package order

// LineItem is one variant demand row of an order.
type LineItem struct {
	ID        string
	OrderID   string
	VariantID string
	Quantity  int
	UnitPrice float64
}

// TotalValue sums quantity-weighted prices across items.
func TotalValue(items []LineItem) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}
