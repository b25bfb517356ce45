package domain

import "time"

// State represents the lifecycle state of a stock reservation
type State string

const (
	StateActive    State = "active"
	StateConfirmed State = "confirmed"
	StateExpired   State = "expired"
)

// Valid reports whether s is one of the known states
func (s State) Valid() bool {
	switch s {
	case StateActive, StateConfirmed, StateExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateExpired
}

// Reservation is a temporary hold on a quantity of one product
type Reservation struct {
	ID        string    `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// UpdatedAt is when the last state transition happened on any node.
	UpdatedAt time.Time `json:"updated_at"`
	// Version orders writes to the same reservation across nodes.
	Version int64 `json:"version"`
	// UpdatedBy is the node that produced this version.
	UpdatedBy string `json:"updated_by"`
}

// IsExpiredAt checks if an active reservation is past its deadline at now
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return r.State == StateActive && !now.Before(r.ExpiresAt)
}

// Supersedes reports whether r should replace other when both describe the same
// reservation. Terminal beats active, then version, then confirmed beats expired,
// then node id. The order is total so merges converge regardless of delivery order.
func (r Reservation) Supersedes(other Reservation) bool {
	if r.State.Terminal() != other.State.Terminal() {
		return r.State.Terminal()
	}
	if r.Version != other.Version {
		return r.Version > other.Version
	}
	if r.State != other.State {
		return r.State == StateConfirmed
	}
	return r.UpdatedBy > other.UpdatedBy
}

// SameContent compares the replicated fields of two records
func (r Reservation) SameContent(other Reservation) bool {
	return r.ID == other.ID &&
		r.ProductID == other.ProductID &&
		r.Quantity == other.Quantity &&
		r.SessionID == other.SessionID &&
		r.State == other.State &&
		r.CreatedAt.Equal(other.CreatedAt) &&
		r.ExpiresAt.Equal(other.ExpiresAt) &&
		r.UpdatedAt.Equal(other.UpdatedAt) &&
		r.Version == other.Version &&
		r.UpdatedBy == other.UpdatedBy
}
