package tabsync

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/fjod/go_cart/reservation-service/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// flushTimeout bounds one round of persisting and broadcasting
	flushTimeout = 5 * time.Second

	initialRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// Replica is the local store the synchronizer keeps in step with other nodes
type Replica interface {
	NodeID() string
	Apply(r domain.Reservation) store.ApplyResult
	SubscribeChanges(fn func(store.Change)) (unsubscribe func())
}

// Recorder counts replication traffic
type Recorder interface {
	EventPublished()
	EventReceived(applied bool)
}

// Synchronizer persists local changes to the shared snapshot store, broadcasts
// them over the transport, and merges events from other nodes into the replica.
type Synchronizer struct {
	replica   Replica
	transport Transport
	repo      repository.SnapshotRepository // optional
	recorder  Recorder                      // optional
	log       *zap.Logger
	sfg       singleflight.Group

	mu         sync.Mutex
	pending    map[string]domain.Reservation
	pruned     map[string]struct{}
	wake       chan struct{}
	retryDelay time.Duration
	retryTimer *time.Timer

	unsubscribe func()
}

// NewSynchronizer starts collecting local changes immediately so nothing made
// before Run is lost. repo and recorder may be nil.
func NewSynchronizer(replica Replica, transport Transport, repo repository.SnapshotRepository, recorder Recorder, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Synchronizer{
		replica:    replica,
		transport:  transport,
		repo:       repo,
		recorder:   recorder,
		log:        log.With(zap.String("node_id", replica.NodeID())),
		pending:    make(map[string]domain.Reservation),
		pruned:     make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		retryDelay: initialRetryDelay,
	}
	s.unsubscribe = replica.SubscribeChanges(s.enqueue)
	return s
}

// Hydrate merges the shared snapshot into the replica. Concurrent calls share one load.
func (s *Synchronizer) Hydrate(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	v, err, _ := s.sfg.Do("hydrate", func() (interface{}, error) {
		records, err := s.repo.LoadAll(ctx)
		if err != nil {
			return 0, err
		}

		applied := 0
		for _, r := range records {
			if s.replica.Apply(r).Applied {
				applied++
			}
		}
		return applied, nil
	})
	if err != nil {
		return 0, err
	}

	applied := v.(int)
	s.log.Info("Hydrated from snapshot store", zap.Int("applied", applied))
	return applied, nil
}

// Run merges incoming events and flushes local changes until ctx is done or the
// transport closes. Incoming events are drained on their own goroutine so a
// blocked broadcast never stops this node from receiving. Pending changes are
// flushed before returning.
func (s *Synchronizer) Run(ctx context.Context) error {
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		s.receiveLoop(recvCtx)
	}()

	for {
		select {
		case <-s.wake:
			flushCtx, cancelFlush := context.WithTimeout(ctx, flushTimeout)
			s.Flush(flushCtx)
			cancelFlush()
		case <-recvDone:
			s.flushDetached()
			if ctx.Err() != nil {
				return nil
			}
			return ErrTransportClosed
		case <-ctx.Done():
			<-recvDone
			s.flushDetached()
			return nil
		}
	}
}

func (s *Synchronizer) receiveLoop(ctx context.Context) {
	events := s.transport.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.receive(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Flush persists and broadcasts everything queued so far. Records that could not
// be delivered are queued again and retried with backoff.
func (s *Synchronizer) Flush(ctx context.Context) {
	s.mu.Lock()
	upserts := make([]domain.Reservation, 0, len(s.pending))
	for _, r := range s.pending {
		upserts = append(upserts, r)
	}
	pruned := make([]string, 0, len(s.pruned))
	for id := range s.pruned {
		pruned = append(pruned, id)
	}
	s.pending = make(map[string]domain.Reservation)
	s.pruned = make(map[string]struct{})
	s.mu.Unlock()

	slices.SortFunc(upserts, func(a, b domain.Reservation) int {
		return cmp.Compare(a.Version, b.Version)
	})

	var (
		failedUpserts []domain.Reservation
		failedPruned  []string
	)
	for _, r := range upserts {
		persisted := s.persist(ctx, r)
		broadcast := s.broadcast(ctx, r)
		if !persisted || !broadcast {
			failedUpserts = append(failedUpserts, r)
		}
	}
	for _, id := range pruned {
		if s.repo == nil {
			break
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			s.log.Warn("Failed to delete pruned reservation", zap.String("reservation_id", id), zap.Error(err))
			failedPruned = append(failedPruned, id)
		}
	}

	s.requeue(failedUpserts, failedPruned)
}

// Close stops collecting local changes and cancels any scheduled retry
func (s *Synchronizer) Close() {
	s.unsubscribe()

	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()
}

// Pending reports how many records are waiting to be delivered
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.pruned)
}

func (s *Synchronizer) enqueue(change store.Change) {
	s.mu.Lock()
	for _, r := range change.Upserts {
		if queued, ok := s.pending[r.ID]; !ok || r.Supersedes(queued) {
			s.pending[r.ID] = r
		}
	}
	for _, id := range change.Pruned {
		delete(s.pending, id)
		s.pruned[id] = struct{}{}
	}
	s.mu.Unlock()

	s.signal()
}

// requeue puts undelivered records back unless a newer local change replaced
// them, then schedules a retry. A clean flush resets the backoff.
func (s *Synchronizer) requeue(upserts []domain.Reservation, pruned []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(upserts) == 0 && len(pruned) == 0 {
		s.retryDelay = initialRetryDelay
		return
	}

	for _, r := range upserts {
		if _, gone := s.pruned[r.ID]; gone {
			continue
		}
		if queued, ok := s.pending[r.ID]; !ok || r.Supersedes(queued) {
			s.pending[r.ID] = r
		}
	}
	for _, id := range pruned {
		delete(s.pending, id)
		s.pruned[id] = struct{}{}
	}

	if s.retryTimer != nil {
		return
	}
	delay := s.retryDelay
	s.retryDelay = min(s.retryDelay*2, maxRetryDelay)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.retryTimer = nil
		s.mu.Unlock()
		s.signal()
	})
	s.log.Debug("Retrying undelivered reservations",
		zap.Int("upserts", len(upserts)),
		zap.Int("pruned", len(pruned)),
		zap.Duration("delay", delay),
	)
}

func (s *Synchronizer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) receive(ev Event) {
	if ev.Origin == s.replica.NodeID() {
		return
	}

	result := s.replica.Apply(ev.Reservation)
	if s.recorder != nil {
		s.recorder.EventReceived(result.Applied)
	}
}

func (s *Synchronizer) persist(ctx context.Context, r domain.Reservation) bool {
	if s.repo == nil {
		return true
	}
	if _, err := s.repo.Save(ctx, r); err != nil {
		s.log.Warn("Failed to persist reservation", zap.String("reservation_id", r.ID), zap.Error(err))
		return false
	}
	return true
}

func (s *Synchronizer) broadcast(ctx context.Context, r domain.Reservation) bool {
	if err := s.transport.Publish(ctx, NewEvent(s.replica.NodeID(), r)); err != nil {
		s.log.Warn("Failed to broadcast reservation", zap.String("reservation_id", r.ID), zap.Error(err))
		return false
	}
	if s.recorder != nil {
		s.recorder.EventPublished()
	}
	return true
}

// flushDetached drains the queue after the run context is gone
func (s *Synchronizer) flushDetached() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	s.Flush(ctx)
}
