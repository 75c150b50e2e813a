// Package bus provides a typed, in-process publish/subscribe channel with
// bounded per-subscriber buffering. Each subscriber drains its own queue on a
// dedicated goroutine, so a slow or failing consumer never stalls the
// publisher or the other subscribers.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the queue length used when Subscribe is given a
// non-positive buffer size.
const DefaultBuffer = 64

// Handler consumes one event. A returned error is logged and otherwise
// ignored.
type Handler[T any] func(ctx context.Context, event T) error

// Bus fans events out to all subscribers.
type Bus[T any] struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]*subscriber[T]
	closed bool
	wg     sync.WaitGroup
}

type subscriber[T any] struct {
	name    string
	ch      chan T
	handler Handler[T]
	dropped atomic.Int64
	cancel  context.CancelFunc
}

// New creates a Bus. The name is attached to every log line.
func New[T any](name string, logger *slog.Logger) *Bus[T] {
	return &Bus[T]{
		name:   name,
		logger: logger.With(slog.String("component", "bus"), slog.String("bus", name)),
		subs:   make(map[string]*subscriber[T]),
	}
}

// Subscribe registers handler under a unique name. The handler runs on its
// own goroutine until ctx is cancelled, Unsubscribe is called or the bus is
// closed. Events published while the subscriber's queue is full are dropped.
// A subscriber whose ctx outlives the bus handles its queued events before
// Close returns.
func (b *Bus[T]) Subscribe(ctx context.Context, name string, buffer int, handler Handler[T]) error {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus %s: subscribe %s: bus closed", b.name, name)
	}
	if _, ok := b.subs[name]; ok {
		return fmt.Errorf("bus %s: subscriber %q already registered", b.name, name)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscriber[T]{
		name:    name,
		ch:      make(chan T, buffer),
		handler: handler,
		cancel:  cancel,
	}
	b.subs[name] = s

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.drain(subCtx, s)
	}()
	return nil
}

// Unsubscribe stops and removes the named subscriber. Queued events that have
// not been handled yet are discarded.
func (b *Bus[T]) Unsubscribe(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if ok {
		delete(b.subs, name)
	}
	b.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Publish enqueues event for every subscriber without blocking. It returns
// the number of subscribers that accepted the event.
func (b *Bus[T]) Publish(event T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, s := range b.subs {
		select {
		case s.ch <- event:
			delivered++
		default:
			n := s.dropped.Add(1)
			b.logger.Warn("bus: subscriber queue full, dropping event",
				slog.String("subscriber", s.name),
				slog.Int64("dropped_total", n),
			)
		}
	}
	return delivered
}

// Dropped returns how many events the named subscriber has lost to a full
// queue.
func (b *Bus[T]) Dropped(name string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.subs[name]; ok {
		return s.dropped.Load()
	}
	return 0
}

// Close stops accepting events, lets every live subscriber work through
// what is already queued and waits for their goroutines to exit.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber[T])
	for _, s := range subs {
		close(s.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
	for _, s := range subs {
		s.cancel()
	}
}

func (b *Bus[T]) drain(ctx context.Context, s *subscriber[T]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.ch:
			if !ok {
				return
			}
			b.deliver(ctx, s, ev)
		}
	}
}

// deliver runs the handler with panic isolation.
func (b *Bus[T]) deliver(ctx context.Context, s *subscriber[T], ev T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: subscriber panicked",
				slog.String("subscriber", s.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := s.handler(ctx, ev); err != nil {
		b.logger.Warn("bus: subscriber returned error",
			slog.String("subscriber", s.name),
			slog.String("error", err.Error()),
		)
	}
}
