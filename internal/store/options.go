package store

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultReservationTTL is how long a reservation is valid before auto-expiring
	DefaultReservationTTL = 15 * time.Minute

	// DefaultRetention is how long terminal reservations stay visible before being pruned
	DefaultRetention = 5 * time.Minute
)

type Option func(*MemoryStore)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithRetention(retention time.Duration) Option {
	return func(s *MemoryStore) {
		if retention >= 0 {
			s.retention = retention
		}
	}
}

// WithNodeID names the node stamped on every version this store produces
func WithNodeID(nodeID string) Option {
	return func(s *MemoryStore) { s.nodeID = nodeID }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *MemoryStore) {
		if log != nil {
			s.log = log
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *MemoryStore) { s.observer = o }
}
