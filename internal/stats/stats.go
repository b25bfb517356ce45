package stats

import (
	"cmp"
	"slices"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/store"
)

type Counts struct {
	Active    int `json:"active"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
}

type ProductTotal struct {
	ProductID     int64 `json:"product_id"`
	TotalQuantity int   `json:"total_quantity"`
}

type Snapshot struct {
	Counts              Counts         `json:"counts"`
	TopReservedProducts []ProductTotal `json:"top_reserved_products"`
}

// Lister is the read side of the reservation store
type Lister interface {
	List(filter store.Filter) []domain.Reservation
}

// Aggregator recomputes statistics from the store on every call
type Aggregator struct {
	lister Lister
}

func NewAggregator(lister Lister) *Aggregator {
	return &Aggregator{lister: lister}
}

func (a *Aggregator) Counts() Counts {
	return CountByState(a.lister.List(store.Filter{}))
}

func (a *Aggregator) TopReservedProducts(limit int) []ProductTotal {
	return TopReserved(a.lister.List(store.Filter{State: domain.StateActive}), limit)
}

func (a *Aggregator) Snapshot(limit int) Snapshot {
	all := a.lister.List(store.Filter{})
	return Snapshot{
		Counts:              CountByState(all),
		TopReservedProducts: TopReserved(all, limit),
	}
}

func CountByState(reservations []domain.Reservation) Counts {
	var c Counts
	for _, r := range reservations {
		switch r.State {
		case domain.StateActive:
			c.Active++
		case domain.StateConfirmed:
			c.Confirmed++
		case domain.StateExpired:
			c.Expired++
		}
	}
	return c
}

// TopReserved sums active quantities per product, largest first, ties by ascending
// product id. A non-positive limit returns every product.
func TopReserved(reservations []domain.Reservation, limit int) []ProductTotal {
	totals := make(map[int64]int)
	for _, r := range reservations {
		if r.State == domain.StateActive {
			totals[r.ProductID] += r.Quantity
		}
	}

	result := make([]ProductTotal, 0, len(totals))
	for id, qty := range totals {
		result = append(result, ProductTotal{ProductID: id, TotalQuantity: qty})
	}
	slices.SortFunc(result, func(a, b ProductTotal) int {
		if c := cmp.Compare(b.TotalQuantity, a.TotalQuantity); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
