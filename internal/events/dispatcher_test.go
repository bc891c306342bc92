package events_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/events"
)

func TestDeliveryInSubscriptionOrder(t *testing.T) {
	d := events.NewDispatcher(zerolog.Nop())
	var got []string
	d.Subscribe("t", func(events.Event) { got = append(got, "a") })
	d.Subscribe("t", func(events.Event) { got = append(got, "b") })
	d.Subscribe("t", func(events.Event) { got = append(got, "c") })

	d.Emit("t", nil)
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestEmitFromHandlerIsNotInterleaved(t *testing.T) {
	d := events.NewDispatcher(zerolog.Nop())
	var got []string
	d.Subscribe("first", func(events.Event) {
		got = append(got, "first/a")
		d.Emit("second", nil)
		got = append(got, "first/a-done")
	})
	d.Subscribe("first", func(events.Event) { got = append(got, "first/b") })
	d.Subscribe("second", func(events.Event) { got = append(got, "second") })

	d.Emit("first", nil)
	// the nested event waits until every handler of the outer event ran
	require.Equal(t, []string{"first/a", "first/a-done", "first/b", "second"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := events.NewDispatcher(zerolog.Nop())
	var calls int
	unsub := d.Subscribe("t", func(events.Event) { calls++ })
	d.Emit("t", nil)
	unsub()
	d.Emit("t", nil)
	require.Equal(t, 1, calls)

	// double unsubscribe is harmless
	unsub()
}

func TestPanicInHandlerDoesNotStopOthers(t *testing.T) {
	d := events.NewDispatcher(zerolog.Nop())
	var calls int
	d.Subscribe("t", func(events.Event) { panic("boom") })
	d.Subscribe("t", func(events.Event) { calls++ })
	d.Emit("t", nil)
	require.Equal(t, 1, calls)
}

func TestPayloadDelivered(t *testing.T) {
	d := events.NewDispatcher(zerolog.Nop())
	var got any
	d.Subscribe("t", func(ev events.Event) { got = ev.Payload })
	d.Emit("t", 42)
	require.Equal(t, 42, got)
}
