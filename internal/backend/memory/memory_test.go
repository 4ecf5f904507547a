package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/memory"
	"github.com/Makepad-fr/tada/internal/model"
)

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	svc := memory.New(zaptest.NewLogger(t))
	defer func() { _ = svc.Close() }()

	milk, err := svc.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.NoError(t, err)
	require.NotEmpty(t, milk.ID)
	require.False(t, milk.CreatedAt.IsZero())

	eggs, err := svc.Insert(ctx, "todos", model.TaskPatch("eggs"))
	require.NoError(t, err)

	done, err := svc.Update(ctx, "todos", milk.ID, model.CompletedPatch(true))
	require.NoError(t, err)
	require.True(t, done.IsCompleted)
	require.Equal(t, "milk", done.Task)

	items, err := svc.FetchAll(ctx, "todos", backend.ByCreatedAt)
	require.NoError(t, err)
	require.Equal(t, []model.ID{milk.ID, eggs.ID}, []model.ID{items[0].ID, items[1].ID})

	require.NoError(t, svc.Delete(ctx, "todos", milk.ID))
	require.ErrorIs(t, svc.Delete(ctx, "todos", milk.ID), backend.ErrNotFound)
	_, err = svc.Update(ctx, "todos", milk.ID, model.CompletedPatch(false))
	require.ErrorIs(t, err, backend.ErrNotFound)

	items, err = svc.FetchAll(ctx, "todos", backend.ByCreatedAt)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc := memory.New(zaptest.NewLogger(t))

	_, err := svc.FetchAll(ctx, "no spaces", backend.ByCreatedAt)
	require.True(t, backend.Error.Has(err))
	_, err = svc.FetchAll(ctx, "todos", backend.OrderBy{Field: "priority"})
	require.True(t, backend.Error.Has(err))

	require.NoError(t, svc.Close())
	_, err = svc.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.ErrorIs(t, err, backend.ErrClosed)
}
