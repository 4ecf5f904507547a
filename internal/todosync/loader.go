package todosync

import (
	"context"

	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/collection"
)

// Loader performs the one authoritative fetch that seeds a store.
type Loader struct {
	log        *zap.Logger
	svc        backend.Service
	collection string
	store      *collection.Store
	notify     Notifier
}

// NewLoader creates a loader for one store.
func NewLoader(log *zap.Logger, svc backend.Service, name string, store *collection.Store, notify Notifier) *Loader {
	return &Loader{log: log, svc: svc, collection: name, store: store, notify: notify}
}

// Load fetches every item ordered by creation time and seeds the store. A
// failure leaves the store unseeded, is reported as a transient notice and is
// not retried.
func (l *Loader) Load(ctx context.Context) error {
	items, err := l.svc.FetchAll(ctx, l.collection, backend.ByCreatedAt)
	if err != nil {
		err = FetchError.Wrap(err)
		l.log.Warn("initial load failed", zap.Error(err))
		l.notify.Notify(Notice{Severity: Transient, Message: "Could not load todos", Err: err})
		return err
	}
	l.store.Seed(items)
	l.log.Debug("initial load done", zap.Int("items", len(items)))
	return nil
}
