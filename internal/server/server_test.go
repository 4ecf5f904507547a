package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/memory"
	"github.com/Makepad-fr/tada/internal/backend/remote"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/server"
	"github.com/Makepad-fr/tada/internal/todosync"
)

const (
	token   = "secret-token"
	anonKey = "anon"
)

func setup(t *testing.T) (*memory.Service, *httptest.Server) {
	t.Helper()
	// handler goroutines may outlive the test, so they must not log to t
	log := zap.NewNop()
	svc := memory.New(log)
	ts := httptest.NewServer(server.New(log, svc, server.Config{Token: token, AnonKey: anonKey}).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Close()
	})
	return svc, ts
}

func client(t *testing.T, url, tok string) *remote.Client {
	t.Helper()
	c, err := remote.New(zaptest.NewLogger(t), remote.Config{URL: url, Token: tok, AnonKey: anonKey})
	require.NoError(t, err)
	return c
}

func TestRemoteCRUD(t *testing.T) {
	ctx := context.Background()
	_, ts := setup(t)
	c := client(t, ts.URL, token)

	milk, err := c.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.NoError(t, err)
	require.NotEmpty(t, milk.ID)

	done, err := c.Update(ctx, "todos", milk.ID, model.CompletedPatch(true))
	require.NoError(t, err)
	require.True(t, done.IsCompleted)

	items, err := c.FetchAll(ctx, "todos", backend.ByCreatedAt)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, milk.ID, items[0].ID)

	require.NoError(t, c.Delete(ctx, "todos", milk.ID))
	require.ErrorIs(t, c.Delete(ctx, "todos", milk.ID), backend.ErrNotFound)

	items, err = c.FetchAll(ctx, "todos", backend.ByCreatedAt)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	_, ts := setup(t)
	c := client(t, ts.URL, "wrong")

	_, err := c.FetchAll(ctx, "todos", backend.ByCreatedAt)
	require.True(t, remote.Error.Has(err), err)
	require.Contains(t, err.Error(), "401")

	_, err = c.Subscribe(ctx, "todos", func(backend.Change) {})
	require.Error(t, err)
}

func TestBadRequests(t *testing.T) {
	_, ts := setup(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/collections/todos/items?order=priority.asc", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", anonKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionOverWebsocket(t *testing.T) {
	ctx := context.Background()
	svc, ts := setup(t)
	c := client(t, ts.URL, token)

	_, err := svc.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.NoError(t, err)

	s, err := todosync.Mount(ctx, zaptest.NewLogger(t), c, todosync.Options{})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.Equal(t, todosync.Subscribed, s.Listener().State())
	require.Len(t, s.Snapshot(), 1)

	// a change made by another client reaches this session
	eggs, err := svc.Insert(ctx, "todos", model.TaskPatch("eggs"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := s.Get(eggs.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Commands().Toggle(ctx, eggs.ID, false))
	require.Eventually(t, func() bool {
		it, _ := s.Get(eggs.ID)
		return it.IsCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	_, degraded := s.Degraded()
	require.False(t, degraded)
}

func TestFeedLossDegradesSession(t *testing.T) {
	ctx := context.Background()
	svc, ts := setup(t)
	c := client(t, ts.URL, token)

	s, err := todosync.Mount(ctx, zaptest.NewLogger(t), c, todosync.Options{})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// shutting the hub down ends every feed connection
	require.NoError(t, svc.Close())

	require.Eventually(t, func() bool {
		_, degraded := s.Degraded()
		return degraded
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, todosync.Failed, s.Listener().State())
}

// lateSubscriber registers feed subscribers only once the test has committed,
// or after wait, whichever comes first.
type lateSubscriber struct {
	backend.Service
	committed chan struct{}
	wait      time.Duration
}

func (l lateSubscriber) Subscribe(ctx context.Context, collection string, onEvent func(backend.Change)) (backend.Subscription, error) {
	select {
	case <-l.committed:
	case <-time.After(l.wait):
	}
	return l.Service.Subscribe(ctx, collection, onEvent)
}

func TestCommitAfterDialIsDelivered(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	svc := memory.New(log)
	slow := lateSubscriber{Service: svc, committed: make(chan struct{}), wait: 200 * time.Millisecond}
	ts := httptest.NewServer(server.New(log, slow, server.Config{Token: token, AnonKey: anonKey}).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Close()
	})
	c := client(t, ts.URL, token)

	changes := make(chan backend.Change, 4)
	sub, err := c.Subscribe(ctx, "todos", func(ch backend.Change) { changes <- ch })
	require.NoError(t, err)
	defer func() { _ = c.Unsubscribe(sub) }()

	milk, err := c.Insert(ctx, "todos", model.TaskPatch("milk"))
	require.NoError(t, err)
	close(slow.committed)

	select {
	case ch := <-changes:
		require.Equal(t, backend.Inserted, ch.Kind)
		require.Contains(t, string(ch.New), string(milk.ID))
	case <-time.After(2 * time.Second):
		t.Fatal("insert committed after subscribe returned was not delivered")
	}
}
