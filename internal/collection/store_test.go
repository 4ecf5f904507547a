package collection_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Makepad-fr/tada/internal/collection"
	"github.com/Makepad-fr/tada/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func item(id, task string) model.Item {
	return model.Item{ID: model.ID(id), Task: task, CreatedAt: t0}
}

func TestApplyInsertIsIdempotent(t *testing.T) {
	once := collection.New(zaptest.NewLogger(t), nil)
	twice := collection.New(zaptest.NewLogger(t), nil)

	once.ApplyInsert(item("1", "milk"))
	require.True(t, twice.ApplyInsert(item("1", "milk")))
	require.False(t, twice.ApplyInsert(item("1", "milk")))

	require.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestApplyUpdateUnknownID(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyInsert(item("1", "milk"))
	before := s.Snapshot()

	require.False(t, s.ApplyUpdate(item("2", "eggs")))
	require.Equal(t, before, s.Snapshot())

	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, "update", diags[0].Op)
	require.Equal(t, model.ID("2"), diags[0].ID)
}

func TestApplyUpdateReplacesWholesale(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyInsert(item("1", "milk"))
	s.ApplyInsert(item("2", "eggs"))

	updated := model.Item{ID: "1", Task: "oat milk", IsCompleted: true, CreatedAt: t0}
	require.True(t, s.ApplyUpdate(updated))
	require.Equal(t, []model.Item{updated, item("2", "eggs")}, s.Snapshot())
}

func TestApplyDeleteUnknownID(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyInsert(item("1", "milk"))
	before := s.Snapshot()

	require.False(t, s.ApplyDelete("9"))
	require.Equal(t, before, s.Snapshot())
	require.Empty(t, s.Diagnostics())
}

func TestMissingIDIsRejected(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)

	require.NotPanics(t, func() {
		require.False(t, s.ApplyInsert(model.Item{Task: "no id"}))
		require.False(t, s.ApplyUpdate(model.Item{}))
		require.False(t, s.ApplyDelete(""))
	})
	require.Zero(t, s.Len())
	require.Len(t, s.Diagnostics(), 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyInsert(item("1", "milk"))

	snap := s.Snapshot()
	snap[0].Task = "changed"
	require.Equal(t, "milk", s.Snapshot()[0].Task)
}

func TestSeedKeepsEarlierFeedInserts(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyInsert(item("2", "eggs"))

	s.Seed(nil)
	require.True(t, s.Seeded())
	require.Equal(t, []model.Item{item("2", "eggs")}, s.Snapshot())
}

func TestSeedOrdersBaselineFirst(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyInsert(item("3", "bread"))
	s.ApplyInsert(item("1", "stale milk"))

	s.Seed([]model.Item{item("1", "milk"), item("2", "eggs"), item("2", "dup")})
	require.Equal(t, []model.Item{item("1", "milk"), item("2", "eggs"), item("3", "bread")}, s.Snapshot())
}

func TestSeedSkipsTombstones(t *testing.T) {
	s := collection.New(zaptest.NewLogger(t), nil)
	s.ApplyDelete("1")

	s.Seed([]model.Item{item("1", "milk"), item("2", "eggs")})
	require.Equal(t, []model.Item{item("2", "eggs")}, s.Snapshot())

	// a redelivered insert for a deleted id stays deleted
	require.False(t, s.ApplyInsert(item("1", "milk")))
	require.Equal(t, 1, s.Len())
}

func TestOnChangeFiresPerMutation(t *testing.T) {
	calls := 0
	s := collection.New(zaptest.NewLogger(t), func() { calls++ })

	s.ApplyInsert(item("1", "milk"))
	s.ApplyInsert(item("1", "milk"))
	s.ApplyUpdate(item("1", "oat milk"))
	s.ApplyDelete("1")
	s.ApplyDelete("1")
	require.Equal(t, 3, calls)
}

// Any interleaving that keeps each id's own events in order ends in the state
// given by each id's last event.
func TestCausalReplayConverges(t *testing.T) {
	type event struct {
		kind string
		item model.Item
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var perID [][]event
		want := map[model.ID]model.Item{}
		for n := 0; n < 6; n++ {
			id := model.ID(fmt.Sprintf("id-%d", n))
			evs := []event{{"insert", model.Item{ID: id, Task: "v0", CreatedAt: t0}}}
			updates := rng.Intn(3)
			for u := 1; u <= updates; u++ {
				evs = append(evs, event{"update", model.Item{ID: id, Task: fmt.Sprintf("v%d", u), IsCompleted: u%2 == 1, CreatedAt: t0}})
			}
			if rng.Intn(3) == 0 {
				evs = append(evs, event{"delete", model.Item{ID: id}})
			} else {
				want[id] = evs[len(evs)-1].item
			}
			perID = append(perID, evs)
		}

		s := collection.New(zaptest.NewLogger(t), nil)
		for {
			live := []int{}
			for i, evs := range perID {
				if len(evs) > 0 {
					live = append(live, i)
				}
			}
			if len(live) == 0 {
				break
			}
			pick := live[rng.Intn(len(live))]
			ev := perID[pick][0]
			perID[pick] = perID[pick][1:]
			switch ev.kind {
			case "insert":
				s.ApplyInsert(ev.item)
			case "update":
				s.ApplyUpdate(ev.item)
			case "delete":
				s.ApplyDelete(ev.item.ID)
			}
		}

		got := map[model.ID]model.Item{}
		for _, it := range s.Snapshot() {
			got[it.ID] = it
		}
		require.Equal(t, want, got, "round %d", round)
	}
}
