package tabsync

import (
	"context"
	"errors"
	"sync"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport broadcasts events to every other node and delivers theirs.
// Implementations may deliver a node's own events back to it.
type Transport interface {
	Publish(ctx context.Context, ev Event) error
	// Events is closed when the transport is closed
	Events() <-chan Event
	Close() error
}

// Hub connects in-process nodes with channels
type Hub struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
	buffer    int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		endpoints: make(map[*Endpoint]struct{}),
		buffer:    buffer,
	}
}

// Join attaches a new node to the hub
func (h *Hub) Join() *Endpoint {
	e := &Endpoint{
		hub:    h,
		events: make(chan Event, h.buffer),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	h.endpoints[e] = struct{}{}
	h.mu.Unlock()
	return e
}

// Endpoint is one node's attachment to a Hub
type Endpoint struct {
	hub    *Hub
	events chan Event
	closed chan struct{}
	once   sync.Once
}

// Publish delivers ev to every other endpoint, blocking while a peer's buffer is full
func (e *Endpoint) Publish(ctx context.Context, ev Event) error {
	select {
	case <-e.closed:
		return ErrTransportClosed
	default:
	}

	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()

	for peer := range e.hub.endpoints {
		if peer == e {
			continue
		}
		select {
		case peer.events <- ev:
		case <-peer.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Endpoint) Events() <-chan Event {
	return e.events
}

func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)

		e.hub.mu.Lock()
		delete(e.hub.endpoints, e)
		e.hub.mu.Unlock()

		close(e.events)
	})
	return nil
}
