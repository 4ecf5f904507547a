// Package sqlite implements the authoritative collection service on top of an
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/feed"
	"github.com/Makepad-fr/tada/internal/model"
)

// Error is the error class for this package.
var Error = errs.Class("sqlite")

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	collection   TEXT NOT NULL,
	task         TEXT NOT NULL DEFAULT '',
	is_completed INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_collection_created ON items (collection, created_at);
`

// Service stores items in SQLite and publishes committed changes to its feed.
type Service struct {
	log *zap.Logger
	db  *sql.DB
	hub *feed.Hub
	now func() time.Time

	// writes are serialized so the feed sees changes in commit order
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(ctx context.Context, log *zap.Logger, path string) (*Service, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// a single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between our own writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}

	return &Service{
		log: log,
		db:  db,
		hub: feed.NewHub(log.Named("feed")),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close shuts the feed down and closes the database.
func (s *Service) Close() error {
	s.hub.Shutdown()
	return Error.Wrap(s.db.Close())
}

func (s *Service) FetchAll(ctx context.Context, collection string, order backend.OrderBy) ([]model.Item, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := backend.ValidateOrder(order); err != nil {
		return nil, err
	}
	field := order.Field
	if field == "" {
		field = "created_at"
	}
	dir := "ASC"
	if !order.Ascending {
		dir = "DESC"
	}
	// field is one of the whitelisted columns
	query := fmt.Sprintf(`SELECT id, task, is_completed, created_at FROM items WHERE collection = ? ORDER BY %s %s, rowid %s`, field, dir, dir)

	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	items := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, Error.Wrap(rows.Err())
}

func (s *Service) Insert(ctx context.Context, collection string, fields model.Patch) (model.Item, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return model.Item{}, err
	}
	it := fields.Apply(model.Item{
		ID:        model.ID(uuid.NewString()),
		CreatedAt: s.now(),
	})

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, collection, task, is_completed, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(it.ID), collection, it.Task, it.IsCompleted, it.CreatedAt.UnixNano())
	if err != nil {
		return model.Item{}, Error.Wrap(err)
	}
	s.hub.Publish(backend.InsertChange(collection, it))
	return it, nil
}

func (s *Service) Update(ctx context.Context, collection string, id model.ID, patch model.Patch) (_ model.Item, err error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return model.Item{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Item{}, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, ignoreDone(tx.Rollback()))
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT id, task, is_completed, created_at FROM items WHERE collection = ? AND id = ?`, collection, string(id))
	before, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Item{}, err
	}

	after := patch.Apply(before)
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET task = ?, is_completed = ? WHERE collection = ? AND id = ?`,
		after.Task, after.IsCompleted, collection, string(id)); err != nil {
		return model.Item{}, Error.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return model.Item{}, Error.Wrap(err)
	}

	s.hub.Publish(backend.UpdateChange(collection, before, after))
	return after, nil
}

func (s *Service) Delete(ctx context.Context, collection string, id model.ID) error {
	if err := backend.ValidateCollection(collection); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE collection = ? AND id = ?`, collection, string(id))
	if err != nil {
		return Error.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if n == 0 {
		return backend.ErrNotFound
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

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (model.Item, error) {
	var (
		id, task  string
		completed bool
		created   int64
	)
	if err := row.Scan(&id, &task, &completed, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Item{}, err
		}
		return model.Item{}, Error.Wrap(err)
	}
	return model.Item{
		ID:          model.ID(id),
		Task:        task,
		IsCompleted: completed,
		CreatedAt:   time.Unix(0, created).UTC(),
	}, nil
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
