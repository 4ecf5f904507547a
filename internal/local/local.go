// Package local implements the local-only variant: the list lives in a
// key-value store on this machine, mirrored on every change and reloaded
// verbatim at startup. It speaks the same collection service contract as the
// remote backends so the sync core is shared.
package local

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/feed"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store"
)

// Error is the error class for the local variant.
var Error = errs.Class("local")

// Service keeps one list per collection, each stored under the collection's
// name as a JSON array.
type Service struct {
	log *zap.Logger
	kv  store.KV
	hub *feed.Hub
	now func() time.Time

	mu    sync.Mutex
	lists map[string][]model.Item
}

// New wraps kv. Lists are read lazily on first use.
func New(log *zap.Logger, kv store.KV) *Service {
	return &Service{
		log:   log,
		kv:    kv,
		hub:   feed.NewHub(log.Named("feed")),
		now:   func() time.Time { return time.Now().UTC() },
		lists: make(map[string][]model.Item),
	}
}

// Close stops the feed and closes the key-value store.
func (s *Service) Close() error {
	s.hub.Shutdown()
	return s.kv.Close()
}

func (s *Service) FetchAll(ctx context.Context, collection string, order backend.OrderBy) ([]model.Item, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := backend.ValidateOrder(order); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.list(collection)
	if err != nil {
		return nil, err
	}
	out := append([]model.Item(nil), items...)
	backend.SortItems(out, order)
	return out, nil
}

func (s *Service) Insert(ctx context.Context, collection string, fields model.Patch) (model.Item, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return model.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.list(collection)
	if err != nil {
		return model.Item{}, err
	}
	it := fields.Apply(model.Item{ID: model.ID(uuid.NewString()), CreatedAt: s.now()})
	next := append(append([]model.Item(nil), items...), it)
	if err := s.commit(collection, next); err != nil {
		return model.Item{}, err
	}
	s.hub.Publish(backend.InsertChange(collection, it))
	return it, nil
}

func (s *Service) Update(ctx context.Context, collection string, id model.ID, patch model.Patch) (model.Item, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return model.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.list(collection)
	if err != nil {
		return model.Item{}, err
	}
	i := indexOf(items, id)
	if i < 0 {
		return model.Item{}, backend.ErrNotFound
	}
	before := items[i]
	after := patch.Apply(before)
	next := append([]model.Item(nil), items...)
	next[i] = after
	if err := s.commit(collection, next); err != nil {
		return model.Item{}, err
	}
	s.hub.Publish(backend.UpdateChange(collection, before, after))
	return after, nil
}

func (s *Service) Delete(ctx context.Context, collection string, id model.ID) error {
	if err := backend.ValidateCollection(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.list(collection)
	if err != nil {
		return err
	}
	i := indexOf(items, id)
	if i < 0 {
		return backend.ErrNotFound
	}
	next := append(append([]model.Item(nil), items[:i]...), items[i+1:]...)
	if err := s.commit(collection, next); err != nil {
		return err
	}
	s.hub.Publish(backend.DeleteChange(collection, id))
	return nil
}

func (s *Service) Subscribe(ctx context.Context, collection string, onEvent func(backend.Change)) (backend.Subscription, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, collection, onEvent)
}

func (s *Service) Unsubscribe(sub backend.Subscription) error {
	return s.hub.Unsubscribe(sub)
}

// list returns the cached list, loading it on first use. Callers hold mu.
func (s *Service) list(collection string) ([]model.Item, error) {
	if items, ok := s.lists[collection]; ok {
		return items, nil
	}
	raw, err := s.kv.Get(collection)
	if errors.Is(err, store.ErrNotFound) {
		s.lists[collection] = []model.Item{}
		return s.lists[collection], nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var items []model.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, Error.New("decode %s: %v", collection, err)
	}
	s.log.Debug("loaded list", zap.String("collection", collection), zap.Int("items", len(items)))
	s.lists[collection] = items
	return items, nil
}

// commit mirrors next into the key-value store, then makes it current.
func (s *Service) commit(collection string, next []model.Item) error {
	b, err := json.Marshal(next)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := s.kv.Set(collection, string(b)); err != nil {
		return Error.Wrap(err)
	}
	s.lists[collection] = next
	return nil
}

func indexOf(items []model.Item, id model.ID) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
