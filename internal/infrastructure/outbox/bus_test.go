package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domoutbox "github.com/azeloquendo/farm2table-payments/internal/domain/outbox"
)

type testEvent struct {
	name string
	n    int
}

func (e testEvent) EventName() string { return e.name }

type recorder struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (r *recorder) handle(_ context.Context, e domoutbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	first := &recorder{}
	second := &recorder{}
	bus.Subscribe("evt", first.handle)
	bus.Subscribe("evt", second.handle)

	ctx := context.Background()
	bus.Start(ctx)
	defer bus.Stop(ctx)

	require.NoError(t, bus.Publish(ctx, testEvent{name: "evt"}))

	require.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBusIgnoresEventsWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()
	bus.Start(ctx)
	defer bus.Stop(ctx)

	require.NoError(t, bus.Publish(ctx, testEvent{name: "nobody_listens"}))
}

func TestBusSurvivesHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	bus.Subscribe("evt", func(context.Context, domoutbox.Event) error {
		panic("handler bug")
	})
	bus.Subscribe("evt", rec.handle)

	ctx := context.Background()
	bus.Start(ctx)
	defer bus.Stop(ctx)

	require.NoError(t, bus.Publish(ctx, testEvent{name: "evt", n: 1}))
	require.NoError(t, bus.Publish(ctx, testEvent{name: "evt", n: 2}))

	require.Eventually(t, func() bool {
		return rec.count() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBusStopDrainsQueue(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	bus.Subscribe("evt", rec.handle)

	ctx := context.Background()
	bus.Start(ctx)

	const published = 20
	for i := 0; i < published; i++ {
		require.NoError(t, bus.Publish(ctx, testEvent{name: "evt", n: i}))
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	assert.Equal(t, published, rec.count())
}

func TestPublishFailsOnceContextIsDone(t *testing.T) {
	bus := NewBus(nil)
	// Never started, so a full queue cannot drain.
	for i := 0; i < queueCapacity; i++ {
		require.NoError(t, bus.Publish(context.Background(), testEvent{name: "evt", n: i}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, testEvent{name: "evt"})
	require.ErrorIs(t, err, context.Canceled)
}
