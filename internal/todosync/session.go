// Package todosync keeps a client-side todo list in step with an
// authoritative collection service: one fetch seeds the list, the change feed
// keeps it current, and commands go to the backend only.
package todosync

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/collection"
	"github.com/Makepad-fr/tada/internal/model"
)

// DefaultCollection is the collection todos are stored in.
const DefaultCollection = "todos"

// Options configure a session.
type Options struct {
	// Collection defaults to DefaultCollection.
	Collection string
	// Notifier, if set, also receives every notice.
	Notifier Notifier
}

// Session is one mounted view of a collection. It owns the store and the
// feed subscription; Close releases the subscription exactly once.
type Session struct {
	log        *zap.Logger
	collection string

	store      *collection.Store
	loader     *Loader
	listener   *Listener
	dispatcher *Dispatcher
	notices    *noticeQueue
	changed    chan struct{}
	done       chan struct{}

	loadErr   error
	closeOnce sync.Once
	closeErr  error
}

// Mount builds a session, subscribes to the feed and runs the initial load
// concurrently, and returns once both have resolved. Neither failure is
// fatal: both surface as notices and the session stays usable.
func Mount(ctx context.Context, log *zap.Logger, svc backend.Service, opts Options) (*Session, error) {
	name := opts.Collection
	if name == "" {
		name = DefaultCollection
	}
	if err := backend.ValidateCollection(name); err != nil {
		return nil, err
	}

	s := &Session{
		log:        log,
		collection: name,
		notices:    newNoticeQueue(log.Named("notice")),
		changed:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	var notify Notifier = s.notices
	if opts.Notifier != nil {
		notify = NotifierFunc(func(n Notice) {
			s.notices.Notify(n)
			opts.Notifier.Notify(n)
		})
	}

	s.store = collection.New(log.Named("store"), s.signal)
	s.listener = NewListener(log.Named("listener"), svc, name, s.store, notify)
	s.loader = NewLoader(log.Named("loader"), svc, name, s.store, notify)
	s.dispatcher = NewDispatcher(log.Named("dispatcher"), svc, name, notify)

	var g errgroup.Group
	g.Go(func() error {
		// failure already reported as a degraded notice
		_ = s.listener.Start(ctx)
		return nil
	})
	g.Go(func() error {
		s.loadErr = s.loader.Load(ctx)
		return nil
	})
	_ = g.Wait()

	log.Debug("session mounted",
		zap.String("collection", name),
		zap.Stringer("listener", s.listener.State()),
		zap.Bool("loaded", s.loadErr == nil))
	return s, nil
}

// Collection returns the collection name.
func (s *Session) Collection() string { return s.collection }

// Snapshot returns the items to render.
func (s *Session) Snapshot() []model.Item { return s.store.Snapshot() }

// Get returns one item of the current snapshot.
func (s *Session) Get(id model.ID) (model.Item, bool) { return s.store.Get(id) }

// Store exposes the underlying store.
func (s *Session) Store() *collection.Store { return s.store }

// Commands returns the dispatcher.
func (s *Session) Commands() *Dispatcher { return s.dispatcher }

// Listener returns the change feed listener.
func (s *Session) Listener() *Listener { return s.listener }

// LoadErr returns the initial load failure, if any.
func (s *Session) LoadErr() error { return s.loadErr }

// Changed receives a value after the snapshot changed. Signals coalesce.
func (s *Session) Changed() <-chan struct{} { return s.changed }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Notices streams user-visible notices.
func (s *Session) Notices() <-chan Notice { return s.notices.ch }

// Degraded returns the persistent notice while realtime updates are unavailable.
func (s *Session) Degraded() (Notice, bool) { return s.notices.current() }

// Close releases the feed subscription. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.listener.Close()
		close(s.done)
		s.log.Debug("session closed", zap.String("collection", s.collection))
	})
	return s.closeErr
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Host keeps at most one mounted session per UI.
type Host struct {
	log  *zap.Logger
	svc  backend.Service
	opts Options

	mu      sync.Mutex
	current *Session
}

// NewHost creates a host with nothing mounted.
func NewHost(log *zap.Logger, svc backend.Service, opts Options) *Host {
	return &Host{log: log, svc: svc, opts: opts}
}

// Mount tears the current session down, then mounts a new one.
func (h *Host) Mount(ctx context.Context) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		if err := h.current.Close(); err != nil {
			h.log.Warn("closing previous session", zap.Error(err))
		}
		h.current = nil
	}
	s, err := Mount(ctx, h.log, h.svc, h.opts)
	if err != nil {
		return nil, err
	}
	h.current = s
	return s, nil
}

// Current returns the mounted session, or nil.
func (h *Host) Current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Unmount closes the current session, if any.
func (h *Host) Unmount() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil
	}
	err := h.current.Close()
	h.current = nil
	return err
}
