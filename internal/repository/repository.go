package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

var (
	ErrRecordNotFound = errors.New("reservation record not found")
	ErrUnavailable    = errors.New("snapshot store unavailable")
)

// SnapshotRepository is the shared persistent copy of every node's reservations.
// Writes merge per record; a stored record that supersedes the incoming one is kept.
type SnapshotRepository interface {
	// Save merges r into the stored copy and reports whether it was written
	Save(ctx context.Context, r domain.Reservation) (bool, error)
	Get(ctx context.Context, id string) (domain.Reservation, error)
	LoadAll(ctx context.Context) ([]domain.Reservation, error)
	Delete(ctx context.Context, id string) error
}
