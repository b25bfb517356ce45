package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the background sweep runs
const DefaultInterval = 30 * time.Second

// Target is the store operation the sweeper drives
type Target interface {
	SweepExpired() int
}

// Recorder is notified after each sweep
type Recorder interface {
	SweepCompleted(expired int)
}

// Sweeper periodically expires overdue reservations. It can be started and
// stopped repeatedly; a second Start while running is a no-op.
type Sweeper struct {
	target   Target
	interval time.Duration
	log      *zap.Logger
	recorder Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(target Target, interval time.Duration, log *zap.Logger, recorder Recorder) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		log:      log,
		recorder: recorder,
	}
}

// Start sweeps once immediately, then on every interval until ctx is done or Stop is called
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	s.sweep()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.log.Info("Sweeper started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for it to exit. Safe to call when not running.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.log.Info("Sweeper stopped")
}

// Running reports whether the interval loop is active
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep() {
	expired := s.target.SweepExpired()
	if s.recorder != nil {
		s.recorder.SweepCompleted(expired)
	}
}
