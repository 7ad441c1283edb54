package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeEmitUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.New(nil).Level(zerolog.Disabled))

	var got []*Event
	id := bus.Subscribe(OrderFilled, func(e *Event) { got = append(got, e) })
	bus.Subscribe(OrderPlaced, func(e *Event) { t.Fatal("wrong type delivered") })

	bus.Emit(OrderFilled, "execution", map[string]interface{}{"symbol": "SPY"})
	require.Len(t, got, 1)
	assert.Equal(t, "SPY", got[0].Data["symbol"])
	assert.Equal(t, "execution", got[0].Module)
	assert.False(t, got[0].Timestamp.IsZero())

	bus.Unsubscribe(id)
	assert.Equal(t, 0, bus.SubscriberCount(OrderFilled))
	bus.Emit(OrderFilled, "execution", nil)
	assert.Len(t, got, 1)
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	delivered := false
	bus.Subscribe(AlertTriggered, func(e *Event) { panic("bad handler") })
	bus.Subscribe(AlertTriggered, func(e *Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(AlertTriggered, "alerts", nil) })
	assert.True(t, delivered)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	var mu sync.Mutex
	count := 0
	bus.Subscribe(CycleCompleted, func(e *Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(CycleCompleted, "orchestrator", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}

func TestManager_EmitTyped(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	bus := NewBus(log)
	m := NewManager(bus, log)

	var got *Event
	bus.Subscribe(OrderBlocked, func(e *Event) { got = e })
	m.EmitTyped("execution", &OrderEventData{Type: OrderBlocked, Symbol: "QQQ", Quantity: 3, Reason: "pending order exists"})
	require.NotNil(t, got)
	assert.Equal(t, "QQQ", got.Data["symbol"])
	assert.Equal(t, float64(3), got.Data["quantity"])
	assert.Equal(t, "pending order exists", got.Data["reason"])

	var errEvent *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { errEvent = e })
	m.EmitError("orchestrator", errors.New("snapshot failed"), map[string]interface{}{"stage": "refresh"})
	require.NotNil(t, errEvent)
	assert.Equal(t, "snapshot failed", errEvent.Data["error"])
}
