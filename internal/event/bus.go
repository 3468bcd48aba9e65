package event

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Bus errors.
var (
	// ErrNilHandler indicates a subscription with no handler.
	ErrNilHandler = errors.New("nil handler")

	// ErrInvalidTopic indicates an empty or malformed topic.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrInvalidEvent indicates an event that carries no topic.
	ErrInvalidEvent = errors.New("event does not provide a topic")
)

// TopicProvider is implemented by events that know their own topic.
type TopicProvider interface {
	EventTopic() Topic
}

// Handler processes a published event.
type Handler interface {
	Handle(ctx context.Context, event any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event any) error

// Handle calls the function.
func (f HandlerFunc) Handle(ctx context.Context, event any) error {
	return f(ctx, event)
}

// PanicHandler is called when a handler panics during dispatch.
type PanicHandler func(event any, recovered any, stack []byte)

// Subscription is a registered handler bound to a topic pattern.
type Subscription struct {
	id      uint64
	pattern Topic
	handler Handler
	active  atomic.Bool
}

// Pattern returns the topic pattern this subscription matches.
func (s *Subscription) Pattern() Topic { return s.pattern }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// Stats holds bus counters.
type Stats struct {
	EventsPublished  uint64
	HandlersExecuted uint64
	HandlerErrors    uint64
	HandlerPanics    uint64
	Subscriptions    int
}

// Bus is a synchronous, topic-based event bus.
// Dispatch happens in the publisher's goroutine; handlers are expected to be
// fast. Panics in handlers are recovered and routed to the panic handler.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID atomic.Uint64

	panicHandler PanicHandler

	eventsPublished  atomic.Uint64
	handlersExecuted atomic.Uint64
	handlerErrors    atomic.Uint64
	handlerPanics    atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithPanicHandler sets the handler invoked when a subscriber panics.
func WithPanicHandler(h PanicHandler) BusOption {
	return func(b *Bus) {
		b.panicHandler = h
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for the given topic pattern.
func (b *Bus) Subscribe(pattern Topic, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if pattern == "" {
		return nil, ErrInvalidTopic
	}

	sub := &Subscription{
		id:      b.nextID.Add(1),
		pattern: pattern,
		handler: handler,
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(pattern Topic, fn HandlerFunc) (*Subscription, error) {
	return b.Subscribe(pattern, fn)
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.active.Store(false)

	b.mu.Lock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// Publish dispatches an event synchronously to all matching subscriptions.
// The event must implement TopicProvider. The first handler error is
// returned after all handlers have run.
func (b *Bus) Publish(ctx context.Context, event any) error {
	tp, ok := event.(TopicProvider)
	if !ok {
		return ErrInvalidEvent
	}
	eventTopic := tp.EventTopic()
	if eventTopic == "" {
		return ErrInvalidEvent
	}

	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.Active() && Match(sub.pattern, eventTopic) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	b.eventsPublished.Add(1)

	var firstErr error
	for _, sub := range matched {
		err := b.dispatch(ctx, event, sub.handler)
		b.handlersExecuted.Add(1)
		if err != nil {
			b.handlerErrors.Add(1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// dispatch runs one handler with panic recovery.
func (b *Bus) dispatch(ctx context.Context, event any, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			if b.panicHandler != nil {
				b.panicHandler(event, r, debug.Stack())
			}
			err = nil // a panicking handler never fails the publish
		}
	}()
	return handler.Handle(ctx, event)
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()

	return Stats{
		EventsPublished:  b.eventsPublished.Load(),
		HandlersExecuted: b.handlersExecuted.Load(),
		HandlerErrors:    b.handlerErrors.Load(),
		HandlerPanics:    b.handlerPanics.Load(),
		Subscriptions:    subs,
	}
}
