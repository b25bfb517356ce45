package domain

// Availability contains stock information for a product
type Availability struct {
	ProductID      int64 `json:"product_id"`
	StockReal      int   `json:"stock_real"`      // Recorded stock from the catalog
	StockReserved  int   `json:"stock_reserved"`  // Held by active reservations
	StockAvailable int   `json:"stock_available"` // Never negative
}

// ComputeAvailability combines real stock with the active holds for productID.
// Only active reservations count; a product with no reservations has zero held.
func ComputeAvailability(productID int64, stockReal int, reservations []Reservation) Availability {
	reserved := 0
	for _, r := range reservations {
		if r.ProductID == productID && r.State == StateActive {
			reserved += r.Quantity
		}
	}

	available := stockReal - reserved
	if available < 0 {
		available = 0
	}

	return Availability{
		ProductID:      productID,
		StockReal:      stockReal,
		StockReserved:  reserved,
		StockAvailable: available,
	}
}
