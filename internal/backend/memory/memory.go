// Package memory implements an in-process collection service. It backs the
// demo mode and most tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/feed"
	"github.com/Makepad-fr/tada/internal/model"
)

// Service keeps every collection in memory and publishes a change for each
// committed mutation. Changes are published under the lock so the feed sees
// them in commit order.
type Service struct {
	log *zap.Logger
	hub *feed.Hub
	now func() time.Time

	mu          sync.Mutex
	collections map[string][]model.Item
	closed      bool
}

// New creates an empty service.
func New(log *zap.Logger) *Service {
	return &Service{
		log:         log,
		hub:         feed.NewHub(log.Named("feed")),
		now:         func() time.Time { return time.Now().UTC() },
		collections: make(map[string][]model.Item),
	}
}

// Hub exposes the feed so tests can inject raw changes.
func (s *Service) Hub() *feed.Hub { return s.hub }

func (s *Service) FetchAll(ctx context.Context, collection string, order backend.OrderBy) ([]model.Item, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	if err := backend.ValidateOrder(order); err != nil {
		return nil, err
	}
	s.mu.Lock()
	items := append([]model.Item(nil), s.collections[collection]...)
	s.mu.Unlock()
	backend.SortItems(items, order)
	return items, nil
}

func (s *Service) Insert(ctx context.Context, collection string, fields model.Patch) (model.Item, error) {
	if err := s.check(collection); err != nil {
		return model.Item{}, err
	}
	it := fields.Apply(model.Item{
		ID:        model.ID(uuid.NewString()),
		CreatedAt: s.now(),
	})

	s.mu.Lock()
	s.collections[collection] = append(s.collections[collection], it)
	s.hub.Publish(backend.InsertChange(collection, it))
	s.mu.Unlock()
	return it, nil
}

func (s *Service) Update(ctx context.Context, collection string, id model.ID, patch model.Patch) (model.Item, error) {
	if err := s.check(collection); err != nil {
		return model.Item{}, err
	}

	s.mu.Lock()
	items := s.collections[collection]
	i := indexOf(items, id)
	if i < 0 {
		s.mu.Unlock()
		return model.Item{}, backend.ErrNotFound
	}
	before := items[i]
	after := patch.Apply(before)
	items[i] = after
	s.hub.Publish(backend.UpdateChange(collection, before, after))
	s.mu.Unlock()
	return after, nil
}

func (s *Service) Delete(ctx context.Context, collection string, id model.ID) error {
	if err := s.check(collection); err != nil {
		return err
	}

	s.mu.Lock()
	items := s.collections[collection]
	i := indexOf(items, id)
	if i < 0 {
		s.mu.Unlock()
		return backend.ErrNotFound
	}
	s.collections[collection] = append(items[:i:i], items[i+1:]...)
	s.hub.Publish(backend.DeleteChange(collection, id))
	s.mu.Unlock()
	return nil
}

func (s *Service) Subscribe(ctx context.Context, collection string, onEvent func(backend.Change)) (backend.Subscription, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, collection, onEvent)
}

func (s *Service) Unsubscribe(sub backend.Subscription) error {
	return s.hub.Unsubscribe(sub)
}

// Close shuts the feed down; open subscriptions fail.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Shutdown()
	return nil
}

func (s *Service) check(collection string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backend.ErrClosed
	}
	return backend.ValidateCollection(collection)
}

func indexOf(items []model.Item, id model.ID) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
