package boltstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Makepad-fr/tada/internal/store"
	"github.com/Makepad-fr/tada/internal/store/boltstore"
)

func TestSetGetReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tada.bolt")

	c, err := boltstore.New(zaptest.NewLogger(t), path)
	require.NoError(t, err)

	_, err = c.Get("todos")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.Set("todos", "[]"))
	require.NoError(t, c.Set("todos", `[{"id":"1"}]`))
	require.NoError(t, c.Close())

	c, err = boltstore.New(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	v, err := c.Get("todos")
	require.NoError(t, err)
	require.Equal(t, `[{"id":"1"}]`, v)
}
