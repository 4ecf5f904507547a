package todosync

import (
	"context"

	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
)

// Dispatcher sends commands to the backend. It never touches the store:
// confirmed state only arrives through the change feed.
type Dispatcher struct {
	log        *zap.Logger
	svc        backend.Service
	collection string
	notify     Notifier
}

// NewDispatcher creates a dispatcher for one collection.
func NewDispatcher(log *zap.Logger, svc backend.Service, name string, notify Notifier) *Dispatcher {
	return &Dispatcher{log: log, svc: svc, collection: name, notify: notify}
}

// Insert creates a new pending item.
func (d *Dispatcher) Insert(ctx context.Context, task string) (model.Item, error) {
	task = model.NormalizeTask(task)
	if task == "" {
		return model.Item{}, d.fail("add", ErrEmptyTask)
	}
	fields := model.TaskPatch(task)
	fields.IsCompleted = new(bool)
	it, err := d.svc.Insert(ctx, d.collection, fields)
	if err != nil {
		return model.Item{}, d.fail("add", err)
	}
	d.log.Debug("insert sent", zap.String("id", string(it.ID)))
	return it, nil
}

// Toggle flips the completion flag. The new state is computed from current,
// the caller's view of the item, without re-reading it from the backend.
func (d *Dispatcher) Toggle(ctx context.Context, id model.ID, current bool) error {
	if _, err := d.svc.Update(ctx, d.collection, id, model.CompletedPatch(!current)); err != nil {
		return d.fail("toggle", err)
	}
	return nil
}

// Rename replaces the task text.
func (d *Dispatcher) Rename(ctx context.Context, id model.ID, task string) error {
	task = model.NormalizeTask(task)
	if task == "" {
		return d.fail("edit", ErrEmptyTask)
	}
	if _, err := d.svc.Update(ctx, d.collection, id, model.TaskPatch(task)); err != nil {
		return d.fail("edit", err)
	}
	return nil
}

// Delete removes an item.
func (d *Dispatcher) Delete(ctx context.Context, id model.ID) error {
	if err := d.svc.Delete(ctx, d.collection, id); err != nil {
		return d.fail("delete", err)
	}
	return nil
}

func (d *Dispatcher) fail(op string, err error) error {
	if !MutationError.Has(err) {
		err = MutationError.Wrap(err)
	}
	d.log.Warn("command failed", zap.String("op", op), zap.Error(err))
	d.notify.Notify(Notice{Severity: Transient, Message: "Could not " + op + " todo", Err: err})
	return err
}
