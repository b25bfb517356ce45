package tabsync

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReservation() domain.Reservation {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return domain.Reservation{
		ID:        "res-1",
		ProductID: 7,
		Quantity:  2,
		SessionID: "session-1",
		State:     domain.StateActive,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		UpdatedAt: now,
		Version:   now.UnixNano(),
		UpdatedBy: "node-a",
	}
}

func TestEvent_RoundTrip(t *testing.T) {
	ev := NewEvent("node-a", sampleReservation())
	require.NotEmpty(t, ev.EventID)

	data, err := ev.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, "node-a", got.Origin)
	assert.True(t, got.Reservation.SameContent(ev.Reservation))
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"event_type":"cart.updated","origin":"x"}`))
	assert.Error(t, err)

	_, err = UnmarshalEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestHub_DeliversToPeersOnly(t *testing.T) {
	hub := NewHub(4)
	a, b, c := hub.Join(), hub.Join(), hub.Join()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	ev := NewEvent("node-a", sampleReservation())
	require.NoError(t, a.Publish(context.Background(), ev))

	for _, peer := range []*Endpoint{b, c} {
		select {
		case got := <-peer.Events():
			assert.Equal(t, ev.EventID, got.EventID)
		case <-time.After(time.Second):
			t.Fatal("peer did not receive event")
		}
	}

	select {
	case <-a.Events():
		t.Fatal("publisher received its own event")
	default:
	}
}

func TestHub_ClosedEndpoint(t *testing.T) {
	hub := NewHub(1)
	a, b := hub.Join(), hub.Join()
	defer a.Close()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-b.Events()
	assert.False(t, ok)

	err := b.Publish(context.Background(), NewEvent("node-b", sampleReservation()))
	assert.ErrorIs(t, err, ErrTransportClosed)

	// publishing to a hub whose only peer left does not block
	require.NoError(t, a.Publish(context.Background(), NewEvent("node-a", sampleReservation())))
}

func TestHub_PublishHonoursContextWhenPeerFull(t *testing.T) {
	hub := NewHub(1)
	a, b := hub.Join(), hub.Join()
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Publish(context.Background(), NewEvent("node-a", sampleReservation())))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Publish(ctx, NewEvent("node-a", sampleReservation()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisTransport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestRedis(t)

	sub, err := NewRedisTransport(ctx, client, "reservations:test", nil)
	require.NoError(t, err)
	pub, err := NewRedisTransport(ctx, client, "reservations:test", nil)
	require.NoError(t, err)
	defer pub.Close()

	ev := NewEvent("node-a", sampleReservation())
	require.NoError(t, pub.Publish(ctx, ev))

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev.EventID, got.EventID)
		assert.Equal(t, "res-1", got.Reservation.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered over redis")
	}

	require.NoError(t, sub.Close())
	assert.ErrorIs(t, sub.Publish(ctx, ev), ErrTransportClosed)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
