package store

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// Common errors returned by the store
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidQuantity     = errors.New("quantity must be greater than 0")
	ErrInvalidSession      = errors.New("session_id is required")
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	State     domain.State
	SessionID string
	ProductID int64
}

func (f Filter) match(r *domain.Reservation) bool {
	if f.State != "" && r.State != f.State {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.ProductID != 0 && r.ProductID != f.ProductID {
		return false
	}
	return true
}

// Change describes one locally originated mutation
type Change struct {
	Upserts []domain.Reservation
	Pruned  []string
}

// ApplyResult reports the outcome of merging a record from another node
type ApplyResult struct {
	Applied  bool
	Conflict bool
}

// Observer receives events the store cannot express through its snapshot
type Observer interface {
	ReserveRejected(productID int64)
	SyncConflict()
}

// ReservationStore defines the operations callers may use to mutate and read reservations
type ReservationStore interface {
	// Reserve holds quantity of a product for a session if enough is available
	Reserve(ctx context.Context, productID int64, quantity int, sessionID string) (domain.Reservation, error)

	// Replace swaps an active hold for a new one with a different quantity and a fresh TTL
	Replace(ctx context.Context, reservationID string, quantity int) (domain.Reservation, error)

	// Release expires an active reservation early. Returns false if nothing was released.
	Release(reservationID string) bool

	// Confirm marks an active reservation as converted into an order
	Confirm(reservationID string) bool

	// ReleaseSession releases every active hold of a session
	ReleaseSession(sessionID string) int

	// ConfirmSession confirms every active hold of a session
	ConfirmSession(sessionID string) int

	// SweepExpired expires overdue holds and prunes old terminal records
	SweepExpired() int

	Get(reservationID string) (domain.Reservation, error)
	List(filter Filter) []domain.Reservation
	Availability(ctx context.Context, productID int64) (domain.Availability, error)

	// Subscribe registers a callback that receives the full reservation list after every
	// change. The callback may mutate the store; that change is delivered after it returns.
	Subscribe(fn func([]domain.Reservation)) (unsubscribe func())
}
