// Package engine assembles one reservation node: store, sweeper, synchronizer
// and statistics, with an explicit Start/Stop lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/catalog"
	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/fjod/go_cart/reservation-service/internal/stats"
	"github.com/fjod/go_cart/reservation-service/internal/store"
	"github.com/fjod/go_cart/reservation-service/internal/sweeper"
	"github.com/fjod/go_cart/reservation-service/internal/tabsync"
	"go.uber.org/zap"
)

type Config struct {
	NodeID        string
	TTL           time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time // nil means time.Now
}

// Deps are the collaborators a node is built from. Catalog and Transport are
// required; the rest may be nil.
type Deps struct {
	Catalog    catalog.Catalog
	Transport  tabsync.Transport
	Repository repository.SnapshotRepository
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

type Engine struct {
	store        *store.MemoryStore
	sweeper      *sweeper.Sweeper
	synchronizer *tabsync.Synchronizer
	stats        *stats.Aggregator
	transport    tabsync.Transport
	log          *zap.Logger

	unsubscribeMetrics func()

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	runDone chan struct{}
}

func New(cfg Config, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	opts := []store.Option{
		store.WithTTL(cfg.TTL),
		store.WithLogger(log.Named("store")),
	}
	if cfg.Retention > 0 {
		opts = append(opts, store.WithRetention(cfg.Retention))
	}
	if cfg.NodeID != "" {
		opts = append(opts, store.WithNodeID(cfg.NodeID))
	}
	if cfg.Clock != nil {
		opts = append(opts, store.WithClock(cfg.Clock))
	}

	var (
		sweepRecorder sweeper.Recorder
		syncRecorder  tabsync.Recorder
	)
	if deps.Metrics != nil {
		opts = append(opts, store.WithObserver(deps.Metrics))
		sweepRecorder = deps.Metrics
		syncRecorder = deps.Metrics
	}

	st := store.NewMemoryStore(deps.Catalog, opts...)
	e := &Engine{
		store:              st,
		sweeper:            sweeper.New(st, cfg.SweepInterval, log.Named("sweeper"), sweepRecorder),
		synchronizer:       tabsync.NewSynchronizer(st, deps.Transport, deps.Repository, syncRecorder, log.Named("sync")),
		stats:              stats.NewAggregator(st),
		transport:          deps.Transport,
		log:                log.With(zap.String("node_id", st.NodeID())),
		unsubscribeMetrics: func() {},
	}
	if deps.Metrics != nil {
		e.unsubscribeMetrics = st.Subscribe(deps.Metrics.ObserveSnapshot)
	}
	return e
}

// Start hydrates the store from the snapshot store, then runs the sweeper and
// the synchronizer until Stop. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.stopped {
		return nil
	}

	applied, err := e.synchronizer.Hydrate(ctx)
	if err != nil {
		return fmt.Errorf("hydrate failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.runDone = make(chan struct{})

	e.sweeper.Start(runCtx)
	go func() {
		defer close(e.runDone)
		if err := e.synchronizer.Run(runCtx); err != nil {
			e.log.Warn("Synchronizer stopped", zap.Error(err))
		}
	}()

	e.started = true
	e.log.Info("Reservation engine started", zap.Int("hydrated", applied))
	return nil
}

// Stop halts the sweeper, flushes pending changes and closes the transport. Safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	e.stopped = true

	e.sweeper.Stop()
	if e.cancel != nil {
		e.cancel()
		<-e.runDone
	} else {
		e.synchronizer.Flush(context.Background())
	}
	e.synchronizer.Close()
	e.unsubscribeMetrics()

	if err := e.transport.Close(); err != nil {
		return fmt.Errorf("error closing transport: %w", err)
	}
	e.log.Info("Reservation engine stopped")
	return nil
}

func (e *Engine) Store() *store.MemoryStore {
	return e.store
}

func (e *Engine) Stats() *stats.Aggregator {
	return e.stats
}

func (e *Engine) Sweeper() *sweeper.Sweeper {
	return e.sweeper
}

func (e *Engine) NodeID() string {
	return e.store.NodeID()
}
