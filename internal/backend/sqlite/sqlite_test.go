package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/sqlite"
	"github.com/Makepad-fr/tada/internal/model"
)

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tada.db")

	svc, err := sqlite.Open(ctx, zaptest.NewLogger(t), path)
	require.NoError(t, err)

	milk, err := svc.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.NoError(t, err)
	eggs, err := svc.Insert(ctx, "todos", model.TaskPatch("eggs"))
	require.NoError(t, err)
	_, err = svc.Insert(ctx, "other", model.TaskPatch("elsewhere"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "todos", eggs.ID, model.CompletedPatch(true))
	require.NoError(t, err)
	require.True(t, updated.IsCompleted)
	require.Equal(t, "eggs", updated.Task)
	require.NoError(t, svc.Close())

	svc, err = sqlite.Open(ctx, zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	items, err := svc.FetchAll(ctx, "todos", backend.ByCreatedAt)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, milk.ID, items[0].ID)
	require.Equal(t, eggs.ID, items[1].ID)
	require.True(t, items[1].IsCompleted)
	require.True(t, milk.CreatedAt.Equal(items[0].CreatedAt))
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	svc, err := sqlite.Open(ctx, zaptest.NewLogger(t), ":memory:")
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, err = svc.Update(ctx, "todos", "missing", model.CompletedPatch(true))
	require.ErrorIs(t, err, backend.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "todos", "missing"), backend.ErrNotFound)
}

func TestPublishesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	svc, err := sqlite.Open(ctx, zaptest.NewLogger(t), ":memory:")
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	got := make(chan backend.Change, 8)
	sub, err := svc.Subscribe(ctx, "todos", func(c backend.Change) { got <- c })
	require.NoError(t, err)
	defer func() { _ = svc.Unsubscribe(sub) }()

	it, err := svc.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, "todos", it.ID, model.TaskPatch("oat milk"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "todos", it.ID))

	for _, kind := range []backend.ChangeKind{backend.Inserted, backend.Updated, backend.Deleted} {
		select {
		case c := <-got:
			require.Equal(t, kind, c.Kind)
			require.Equal(t, "todos", c.Collection)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s change", kind)
		}
	}
}
