package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/catalog"
	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore implements ReservationStore for a single node
type MemoryStore struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation // reservationID -> reservation
	tombstones   map[string]time.Time           // pruned reservationID -> prune time
	lastVersion  int64

	// pubMu guards the delivery queue; one goroutine drains it at a time so
	// notifications arrive in mutation order
	pubMu      sync.Mutex
	pubQueue   []publication
	publishing bool
	snapshots  *notify.Bus[[]domain.Reservation]
	changes    *notify.Bus[Change]

	catalog   catalog.Catalog
	ttl       time.Duration
	retention time.Duration
	nodeID    string
	now       func() time.Time
	log       *zap.Logger
	observer  Observer
}

// NewMemoryStore creates a new in-memory reservation store
func NewMemoryStore(c catalog.Catalog, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		reservations: make(map[string]*domain.Reservation),
		tombstones:   make(map[string]time.Time),
		snapshots:    notify.NewBus[[]domain.Reservation](),
		changes:      notify.NewBus[Change](),
		catalog:      c,
		ttl:          DefaultReservationTTL,
		retention:    DefaultRetention,
		nodeID:       uuid.NewString(),
		now:          time.Now,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NodeID returns the identifier stamped on locally produced versions
func (s *MemoryStore) NodeID() string {
	return s.nodeID
}

func (s *MemoryStore) TTL() time.Duration {
	return s.ttl
}

// Reserve creates a new active reservation if quantity fits in the available stock
func (s *MemoryStore) Reserve(ctx context.Context, productID int64, quantity int, sessionID string) (domain.Reservation, error) {
	if quantity <= 0 {
		return domain.Reservation{}, ErrInvalidQuantity
	}
	if sessionID == "" {
		return domain.Reservation{}, ErrInvalidSession
	}

	stockReal, err := s.stockReal(ctx, productID)
	if err != nil {
		return domain.Reservation{}, err
	}

	s.mu.Lock()
	available := s.availabilityLocked(productID, stockReal, "").StockAvailable
	if quantity > available {
		s.mu.Unlock()
		s.rejected(productID, quantity, available)
		return domain.Reservation{}, ErrInsufficientStock
	}

	created := s.createLocked(productID, quantity, sessionID, s.now())
	s.unlockAndPublish(Change{Upserts: []domain.Reservation{created}}, true)

	s.log.Debug("Reservation created",
		zap.String("reservation_id", created.ID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("session_id", sessionID),
	)
	return created, nil
}

// Replace expires the given hold and creates a new one for the same product and
// session. The old hold does not count against the new quantity. On error nothing changes.
func (s *MemoryStore) Replace(ctx context.Context, reservationID string, quantity int) (domain.Reservation, error) {
	if quantity <= 0 {
		return domain.Reservation{}, ErrInvalidQuantity
	}

	old, err := s.Get(reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}

	stockReal, err := s.stockReal(ctx, old.ProductID)
	if err != nil {
		return domain.Reservation{}, err
	}

	s.mu.Lock()
	current, ok := s.reservations[reservationID]
	if !ok || current.State != domain.StateActive {
		s.mu.Unlock()
		return domain.Reservation{}, ErrReservationNotFound
	}

	available := s.availabilityLocked(current.ProductID, stockReal, reservationID).StockAvailable
	if quantity > available {
		s.mu.Unlock()
		s.rejected(current.ProductID, quantity, available)
		return domain.Reservation{}, ErrInsufficientStock
	}

	now := s.now()
	expired := s.transitionLocked(current, domain.StateExpired, now)
	created := s.createLocked(current.ProductID, quantity, current.SessionID, now)
	s.unlockAndPublish(Change{Upserts: []domain.Reservation{expired, created}}, true)

	return created, nil
}

// Release cancels an active reservation, returning its quantity to the available pool
func (s *MemoryStore) Release(reservationID string) bool {
	return s.finish(reservationID, domain.StateExpired)
}

// Confirm finalizes an active reservation after checkout
func (s *MemoryStore) Confirm(reservationID string) bool {
	return s.finish(reservationID, domain.StateConfirmed)
}

func (s *MemoryStore) finish(reservationID string, to domain.State) bool {
	s.mu.Lock()
	r, ok := s.reservations[reservationID]
	if !ok || r.State != domain.StateActive {
		s.mu.Unlock()
		return false
	}

	updated := s.transitionLocked(r, to, s.now())
	s.unlockAndPublish(Change{Upserts: []domain.Reservation{updated}}, true)
	return true
}

func (s *MemoryStore) ReleaseSession(sessionID string) int {
	return s.finishSession(sessionID, domain.StateExpired)
}

func (s *MemoryStore) ConfirmSession(sessionID string) int {
	return s.finishSession(sessionID, domain.StateConfirmed)
}

func (s *MemoryStore) finishSession(sessionID string, to domain.State) int {
	s.mu.Lock()
	now := s.now()
	var change Change
	for _, r := range s.sortedLocked() {
		if r.SessionID == sessionID && r.State == domain.StateActive {
			change.Upserts = append(change.Upserts, s.transitionLocked(r, to, now))
		}
	}

	if len(change.Upserts) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.unlockAndPublish(change, true)
	return len(change.Upserts)
}

// SweepExpired transitions every overdue active reservation to expired and
// prunes terminal reservations older than the retention window.
// Returns the number of reservations transitioned.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	now := s.now()

	var change Change
	for _, r := range s.sortedLocked() {
		if r.IsExpiredAt(now) {
			change.Upserts = append(change.Upserts, s.transitionLocked(r, domain.StateExpired, now))
		}
	}
	expired := len(change.Upserts)

	cutoff := now.Add(-s.retention)
	for id, r := range s.reservations {
		if r.State.Terminal() && !r.UpdatedAt.After(cutoff) {
			delete(s.reservations, id)
			s.tombstones[id] = now
			change.Pruned = append(change.Pruned, id)
		}
	}
	slices.Sort(change.Pruned)

	tombstoneCutoff := now.Add(-(s.ttl + s.retention))
	for id, prunedAt := range s.tombstones {
		if prunedAt.Before(tombstoneCutoff) {
			delete(s.tombstones, id)
		}
	}

	if len(change.Upserts) == 0 && len(change.Pruned) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.unlockAndPublish(change, true)

	if expired > 0 {
		s.log.Info("Expired reservations swept",
			zap.Int("expired", expired),
			zap.Int("pruned", len(change.Pruned)),
		)
	}
	return expired
}

// Apply merges a record produced by another node. The record with the higher
// precedence wins; applying the same record twice is a no-op.
func (s *MemoryStore) Apply(incoming domain.Reservation) ApplyResult {
	if incoming.ID == "" || incoming.Quantity <= 0 || !incoming.State.Valid() {
		s.log.Warn("Ignoring malformed reservation from sync", zap.String("reservation_id", incoming.ID))
		return ApplyResult{}
	}

	s.mu.Lock()
	if incoming.Version > s.lastVersion {
		s.lastVersion = incoming.Version
	}

	if _, pruned := s.tombstones[incoming.ID]; pruned {
		s.mu.Unlock()
		return ApplyResult{}
	}

	existing, ok := s.reservations[incoming.ID]
	if !ok {
		cutoff := s.now().Add(-s.retention)
		if incoming.State.Terminal() && !incoming.UpdatedAt.After(cutoff) {
			// would be pruned on the next sweep anyway
			s.mu.Unlock()
			return ApplyResult{}
		}
		r := incoming
		s.reservations[r.ID] = &r
		s.unlockAndPublish(Change{}, false)
		return ApplyResult{Applied: true}
	}

	if existing.SameContent(incoming) {
		s.mu.Unlock()
		return ApplyResult{}
	}

	local := *existing
	conflict := local.Version == incoming.Version ||
		(local.State.Terminal() && incoming.State.Terminal() && local.State != incoming.State)

	applied := incoming.Supersedes(local)
	if applied {
		*existing = incoming
		s.unlockAndPublish(Change{}, false)
	} else {
		s.mu.Unlock()
	}

	if conflict {
		s.log.Warn("Sync conflict resolved",
			zap.String("reservation_id", incoming.ID),
			zap.String("local_state", string(local.State)),
			zap.Int64("local_version", local.Version),
			zap.String("incoming_state", string(incoming.State)),
			zap.Int64("incoming_version", incoming.Version),
			zap.Bool("incoming_won", applied),
		)
		if s.observer != nil {
			s.observer.SyncConflict()
		}
	}

	return ApplyResult{Applied: applied, Conflict: conflict}
}

func (s *MemoryStore) Get(reservationID string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, ErrReservationNotFound
	}
	return *r, nil
}

// List returns copies of the matching reservations ordered by creation time
func (s *MemoryStore) List(filter Filter) []domain.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Reservation, 0, len(s.reservations))
	for _, r := range s.sortedLocked() {
		if filter.match(r) {
			result = append(result, *r)
		}
	}
	return result
}

// Availability returns real, reserved and available stock for a product
func (s *MemoryStore) Availability(ctx context.Context, productID int64) (domain.Availability, error) {
	stockReal, err := s.stockReal(ctx, productID)
	if err != nil {
		return domain.Availability{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availabilityLocked(productID, stockReal, ""), nil
}

// Subscribe registers fn for a full snapshot after every change, local or merged.
// Snapshots arrive in mutation order. fn may call back into the store; the
// resulting snapshot is delivered once fn returns.
func (s *MemoryStore) Subscribe(fn func([]domain.Reservation)) func() {
	return s.snapshots.Subscribe(fn)
}

// SubscribeChanges registers fn for mutations made on this node only
func (s *MemoryStore) SubscribeChanges(fn func(Change)) func() {
	return s.changes.Subscribe(fn)
}

func (s *MemoryStore) stockReal(ctx context.Context, productID int64) (int, error) {
	stockReal, err := s.catalog.StockReal(ctx, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("catalog lookup failed: %w", err)
	}
	return stockReal, nil
}

func (s *MemoryStore) rejected(productID int64, requested, available int) {
	s.log.Info("Reservation rejected: insufficient stock",
		zap.Int64("product_id", productID),
		zap.Int("requested", requested),
		zap.Int("available", available),
	)
	if s.observer != nil {
		s.observer.ReserveRejected(productID)
	}
}

// availabilityLocked computes availability ignoring the reservation with id skip
func (s *MemoryStore) availabilityLocked(productID int64, stockReal int, skip string) domain.Availability {
	held := make([]domain.Reservation, 0)
	for id, r := range s.reservations {
		if id != skip && r.ProductID == productID {
			held = append(held, *r)
		}
	}
	return domain.ComputeAvailability(productID, stockReal, held)
}

func (s *MemoryStore) createLocked(productID int64, quantity int, sessionID string, now time.Time) domain.Reservation {
	r := &domain.Reservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		Quantity:  quantity,
		SessionID: sessionID,
		State:     domain.StateActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		UpdatedAt: now,
		Version:   s.nextVersionLocked(now),
		UpdatedBy: s.nodeID,
	}
	s.reservations[r.ID] = r
	return *r
}

func (s *MemoryStore) transitionLocked(r *domain.Reservation, to domain.State, now time.Time) domain.Reservation {
	r.State = to
	r.UpdatedAt = now
	r.Version = s.nextVersionLocked(now)
	r.UpdatedBy = s.nodeID
	return *r
}

// nextVersionLocked is a hybrid logical clock: wall time, but always past every version seen
func (s *MemoryStore) nextVersionLocked(now time.Time) int64 {
	v := now.UnixNano()
	if v <= s.lastVersion {
		v = s.lastVersion + 1
	}
	s.lastVersion = v
	return v
}

func (s *MemoryStore) sortedLocked() []*domain.Reservation {
	list := make([]*domain.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		list = append(list, r)
	}
	slices.SortFunc(list, func(a, b *domain.Reservation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

type publication struct {
	change   Change
	local    bool
	snapshot []domain.Reservation
}

// unlockAndPublish releases the write lock and delivers the post-mutation
// snapshot. Must be called with s.mu held for writing. Subscribers run without
// any store lock held; a mutation made from inside a callback is queued and
// delivered after the callback returns.
func (s *MemoryStore) unlockAndPublish(change Change, local bool) {
	snapshot := make([]domain.Reservation, 0, len(s.reservations))
	for _, r := range s.sortedLocked() {
		snapshot = append(snapshot, *r)
	}

	s.pubMu.Lock()
	s.pubQueue = append(s.pubQueue, publication{change: change, local: local, snapshot: snapshot})
	s.mu.Unlock()

	if s.publishing {
		s.pubMu.Unlock()
		return
	}
	s.publishing = true

	for len(s.pubQueue) > 0 {
		p := s.pubQueue[0]
		s.pubQueue[0] = publication{}
		s.pubQueue = s.pubQueue[1:]

		s.pubMu.Unlock()
		s.deliver(p)
		s.pubMu.Lock()
	}
	s.publishing = false
	s.pubMu.Unlock()
}

func (s *MemoryStore) deliver(p publication) {
	defer func() {
		// a panicking subscriber must not leave the queue without a drainer
		if v := recover(); v != nil {
			s.pubMu.Lock()
			s.publishing = false
			s.pubMu.Unlock()
			panic(v)
		}
	}()

	if p.local {
		s.changes.Publish(p.change)
	}
	s.snapshots.Publish(p.snapshot)
}
