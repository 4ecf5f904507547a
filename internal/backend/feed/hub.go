// Package feed fans change events out to subscribers of a collection.
package feed

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
)

// defaultBuffer absorbs bursts such as a bulk import. A subscriber that falls
// further behind than this loses its channel instead of silently missing events.
const defaultBuffer = 1024

var (
	// ErrOverflow fails a subscription whose consumer fell behind.
	ErrOverflow = backend.Error.New("feed: subscriber buffer overflow")
	// ErrShutdown fails every subscription still open when the hub shuts down.
	ErrShutdown = backend.Error.New("feed: hub shut down")
)

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// Hub delivers published changes to the subscribers of the change's
// collection. Each subscription has its own delivery goroutine so events
// reach it in publish order.
type Hub struct {
	log    *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:    log,
		buffer: defaultBuffer,
		subs:   make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers onEvent for changes of collection. ctx bounds the call
// only; the subscription lives until Unsubscribe or Shutdown.
func (h *Hub) Subscribe(ctx context.Context, collection string, onEvent func(backend.Change)) (backend.Subscription, error) {
	if onEvent == nil {
		return nil, backend.Error.New("feed: nil event handler")
	}
	if err := ctx.Err(); err != nil {
		return nil, backend.Error.Wrap(err)
	}
	sub := &subscription{
		id:         ulid.MustNew(ulid.Now(), rand.Reader).String(),
		collection: collection,
		onEvent:    onEvent,
		ch:         make(chan backend.Change, h.buffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrShutdown
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	h.log.Debug("subscribed", zap.String("subscription", sub.id), zap.String("collection", collection))
	return sub, nil
}

// Unsubscribe releases sub. Releasing twice is a no-op.
func (h *Hub) Unsubscribe(sub backend.Subscription) error {
	s, ok := sub.(*subscription)
	if !ok {
		return backend.Error.New("feed: foreign subscription %T", sub)
	}
	h.remove(s, nil)
	return nil
}

// Publish queues change for every subscriber of its collection without
// blocking the publisher.
func (h *Hub) Publish(change backend.Change) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	targets := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.collection == change.Collection {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.offer(change) {
			h.log.Warn("subscriber fell behind, dropping channel",
				zap.String("subscription", sub.id), zap.String("collection", sub.collection))
			h.remove(sub, ErrOverflow)
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Shutdown fails every open subscription with ErrShutdown and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.finish(ErrShutdown)
	}
}

func (h *Hub) remove(sub *subscription, cause error) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	sub.finish(cause)
}

type subscription struct {
	id         string
	collection string
	onEvent    func(backend.Change)

	ch   chan backend.Change
	stop chan struct{}
	done chan struct{}

	once sync.Once
	err  error
}

func (s *subscription) ID() string            { return s.id }
func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *subscription) offer(change backend.Change) bool {
	select {
	case <-s.stop:
		return true
	default:
	}
	select {
	case s.ch <- change:
		return true
	default:
		return false
	}
}

// finish stops delivery once; the first cause wins.
func (s *subscription) finish(cause error) {
	s.once.Do(func() {
		s.err = cause
		close(s.stop)
	})
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		// stop takes priority over queued events
		select {
		case <-s.stop:
			return
		default:
		}
		select {
		case <-s.stop:
			return
		case change := <-s.ch:
			s.onEvent(change)
		}
	}
}
