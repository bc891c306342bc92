package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is a payload delivered to subscribed handlers under a topic.
type Event struct {
	Topic   string
	Payload any
}

// Handler receives events for a subscribed topic.
type Handler func(Event)

// Dispatcher delivers events synchronously to registered handlers.
//
// Delivery order is the emission order: an event emitted from inside a
// handler is queued and delivered after the current event has been seen by
// every handler, never interleaved. All delivery happens on the emitting
// goroutine, which keeps the single-owner scheduling contract explicit.
type Dispatcher struct {
	mu          sync.Mutex
	nextID      int
	handlers    map[string][]subscription
	queue       []Event
	dispatching bool
	logger      zerolog.Logger
}

type subscription struct {
	id      int
	handler Handler
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given topic and returns an
// unsubscribe function.
func (d *Dispatcher) Subscribe(topic string, h Handler) func() {
	if d == nil || h == nil || topic == "" {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[topic] = append(d.handlers[topic], subscription{id: id, handler: h})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.handlers[topic]
		for i, sub := range subs {
			if sub.id == id {
				d.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit queues the event and drains the queue unless a drain is already in
// progress on another frame of this goroutine's stack.
func (d *Dispatcher) Emit(topic string, payload any) {
	if d == nil || topic == "" {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, Event{Topic: topic, Payload: payload})
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true
	d.mu.Unlock()
	d.drain()
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.dispatching = false
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		subs := append([]subscription(nil), d.handlers[ev.Topic]...)
		d.mu.Unlock()

		for _, sub := range subs {
			d.deliver(sub.handler, ev)
		}
	}
}

func (d *Dispatcher) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("topic", ev.Topic).Any("panic", r).Msg("event_handler_panic")
		}
	}()
	h(ev)
}
