package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus[int]()

	var got []int
	bus.Subscribe(func(v int) { got = append(got, v) })
	bus.Subscribe(func(v int) { got = append(got, v*10) })

	bus.Publish(3)

	assert.Equal(t, []int{3, 30}, got)
}

func TestBus_UnsubscribeTwiceIsSafe(t *testing.T) {
	bus := NewBus[string]()

	calls := 0
	unsubscribe := bus.Subscribe(func(string) { calls++ })
	other := bus.Subscribe(func(string) {})
	assert.Equal(t, 2, bus.Len())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, bus.Len())

	bus.Publish("x")
	assert.Equal(t, 0, calls)

	other()
	assert.Equal(t, 0, bus.Len())
}

func TestBus_UnsubscribeFromCallback(t *testing.T) {
	bus := NewBus[int]()

	calls := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(func(int) {
		calls++
		unsubscribe()
	})

	bus.Publish(1)
	bus.Publish(2)

	assert.Equal(t, 1, calls)
}
