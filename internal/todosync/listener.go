package todosync

import (
	"bytes"
	"context"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/collection"
	"github.com/Makepad-fr/tada/internal/model"
)

// State is the lifecycle of a Listener.
type State int

const (
	Idle State = iota
	Subscribing
	Subscribed
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Failed:
		return "error"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Listener forwards change feed events of one collection to a store.
// It subscribes at most once and never reconnects.
type Listener struct {
	log        *zap.Logger
	svc        backend.Service
	collection string
	store      *collection.Store
	notify     Notifier

	mu    sync.Mutex
	state State
	sub   backend.Subscription
	err   error
}

// NewListener creates an idle listener.
func NewListener(log *zap.Logger, svc backend.Service, name string, store *collection.Store, notify Notifier) *Listener {
	return &Listener{log: log, svc: svc, collection: name, store: store, notify: notify}
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the channel failure once the listener is in the Failed state.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start subscribes to the feed. Calling Start on a listener that is not idle
// is an error.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Idle {
		state := l.state
		l.mu.Unlock()
		return ChannelError.New("listener already %s", state)
	}
	l.state = Subscribing
	l.mu.Unlock()

	sub, err := l.svc.Subscribe(ctx, l.collection, l.Handle)
	if err != nil {
		err = ChannelError.Wrap(err)
		l.mu.Lock()
		closed := l.state == Closed
		if !closed {
			l.state = Failed
			l.err = err
		}
		l.mu.Unlock()
		if !closed {
			l.degrade(err)
		}
		return err
	}

	l.mu.Lock()
	if l.state == Closed {
		// torn down while subscribing
		l.mu.Unlock()
		return l.release(sub)
	}
	l.state = Subscribed
	l.sub = sub
	l.mu.Unlock()

	l.log.Debug("subscribed", zap.String("collection", l.collection), zap.String("subscription", sub.ID()))
	go l.watch(sub)
	return nil
}

// Close releases the subscription. No notice is shown for an explicit close.
// Close is idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return nil
	}
	sub := l.sub
	l.state = Closed
	l.sub = nil
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	return l.release(sub)
}

func (l *Listener) release(sub backend.Subscription) error {
	if err := l.svc.Unsubscribe(sub); err != nil {
		return ChannelError.Wrap(err)
	}
	return nil
}

// watch moves the listener to Failed when the channel ends on its own.
func (l *Listener) watch(sub backend.Subscription) {
	<-sub.Done()
	cause := sub.Err()

	l.mu.Lock()
	if l.state != Subscribed || l.sub != sub {
		l.mu.Unlock()
		return
	}
	if cause == nil {
		cause = ChannelError.New("channel closed by server")
	}
	cause = ChannelError.Wrap(cause)
	l.state = Failed
	l.err = cause
	l.sub = nil
	l.mu.Unlock()

	l.degrade(cause)
}

func (l *Listener) degrade(err error) {
	l.log.Warn("change feed unavailable", zap.String("collection", l.collection), zap.Error(err))
	l.notify.Notify(Notice{Severity: Persistent, Message: DegradedMessage, Err: err})
}

// Handle applies one change to the store. Malformed changes are dropped with
// a diagnostic; Handle never panics on bad input.
func (l *Listener) Handle(change backend.Change) {
	if l.State() == Closed {
		return
	}
	switch change.Kind {
	case backend.Inserted:
		it, err := decodeRecord(change.New)
		if err != nil {
			l.drop("insert", err)
			return
		}
		l.store.ApplyInsert(it)
	case backend.Updated:
		it, err := decodeRecord(change.New)
		if err != nil {
			l.drop("update", err)
			return
		}
		l.store.ApplyUpdate(it)
	case backend.Deleted:
		it, err := decodeRecord(change.Old)
		if err != nil {
			l.drop("delete", err)
			return
		}
		l.store.ApplyDelete(it.ID)
	default:
		l.drop("unknown", MalformedEventError.New("unknown event type %q", change.Kind))
	}
}

func (l *Listener) drop(op string, err error) {
	l.store.Reject(op, "", err.Error())
}

var null = []byte("null")

// decodeRecord accepts any JSON object and leaves id validation to the store.
func decodeRecord(raw json.RawMessage) (model.Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, null) {
		return model.Item{}, MalformedEventError.New("missing record")
	}
	var it model.Item
	if err := json.Unmarshal(trimmed, &it); err != nil {
		return model.Item{}, MalformedEventError.Wrap(err)
	}
	return it, nil
}
