package todosync_test

import (
	"context"
	"sync"

	"github.com/zeebo/errs"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
)

var errBackend = errs.New("backend unreachable")

// fakeService records calls and lets a test drive the feed by hand.
type fakeService struct {
	mu sync.Mutex

	fetch        func(ctx context.Context) ([]model.Item, error)
	mutationErr  error
	subscribeErr error

	onEvent      func(backend.Change)
	subscribed   chan struct{}
	subs         []*fakeSub
	unsubscribed int
	patches      []model.Patch
	deleted      []model.ID
}

func newFakeService() *fakeService {
	return &fakeService{subscribed: make(chan struct{})}
}

func (f *fakeService) FetchAll(ctx context.Context, collection string, order backend.OrderBy) ([]model.Item, error) {
	if f.fetch != nil {
		return f.fetch(ctx)
	}
	return nil, nil
}

func (f *fakeService) Insert(ctx context.Context, collection string, fields model.Patch) (model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, fields)
	if f.mutationErr != nil {
		return model.Item{}, f.mutationErr
	}
	return fields.Apply(model.Item{ID: "new"}), nil
}

func (f *fakeService) Update(ctx context.Context, collection string, id model.ID, patch model.Patch) (model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	if f.mutationErr != nil {
		return model.Item{}, f.mutationErr
	}
	return patch.Apply(model.Item{ID: id}), nil
}

func (f *fakeService) Delete(ctx context.Context, collection string, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.mutationErr
}

func (f *fakeService) Subscribe(ctx context.Context, collection string, onEvent func(backend.Change)) (backend.Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{done: make(chan struct{})}
	f.mu.Lock()
	f.onEvent = onEvent
	f.subs = append(f.subs, sub)
	first := len(f.subs) == 1
	f.mu.Unlock()
	if first {
		close(f.subscribed)
	}
	return sub, nil
}

func (f *fakeService) Unsubscribe(sub backend.Subscription) error {
	f.mu.Lock()
	f.unsubscribed++
	f.mu.Unlock()
	sub.(*fakeSub).end(nil)
	return nil
}

func (f *fakeService) emit(change backend.Change) {
	f.mu.Lock()
	onEvent := f.onEvent
	f.mu.Unlock()
	onEvent(change)
}

func (f *fakeService) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

func (f *fakeService) lastPatch() model.Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[len(f.patches)-1]
}

type fakeSub struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (s *fakeSub) ID() string            { return "fake" }
func (s *fakeSub) Done() <-chan struct{} { return s.done }
func (s *fakeSub) Err() error            { return s.err }

func (s *fakeSub) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
