// Package collection holds the client-side materialized view of a backend
// collection. The view is only ever changed by applying feed events or by
// seeding it with a full fetch.
package collection

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/model"
)

// Diagnostic records an input the store refused.
type Diagnostic struct {
	At     time.Time
	Op     string
	ID     model.ID
	Reason string
}

// maxDiagnostics bounds the kept history; older entries are discarded.
const maxDiagnostics = 256

// Store is an ordered set of items keyed by id. Every apply operation is
// idempotent and total: malformed input is rejected with a diagnostic.
//
// Deleted ids are remembered as tombstones for the life of the store. Ids are
// never reused, so neither a redelivered insert nor a fetch that raced with
// the feed can bring a deleted item back.
type Store struct {
	log *zap.Logger

	mu          sync.Mutex
	items       []model.Item
	seeded      bool
	tombstones  map[model.ID]struct{}
	diagnostics []Diagnostic
	onChange    func()
}

// New creates an empty, unseeded store. onChange, if not nil, is called after
// every mutation, outside the store's lock.
func New(log *zap.Logger, onChange func()) *Store {
	return &Store{
		log:        log,
		tombstones: make(map[model.ID]struct{}),
		onChange:   onChange,
	}
}

// ApplyInsert appends it unless an item with the same id is already present.
func (s *Store) ApplyInsert(it model.Item) bool {
	if it.ID == "" {
		s.Reject("insert", "", "missing id")
		return false
	}

	s.mu.Lock()
	if _, gone := s.tombstones[it.ID]; gone || s.indexOf(it.ID) >= 0 {
		s.mu.Unlock()
		s.log.Debug("duplicate insert ignored", zap.String("id", string(it.ID)))
		return false
	}
	s.items = append(s.items, it)
	s.mu.Unlock()

	s.changed()
	return true
}

// ApplyUpdate replaces the item with the same id. Updates for unknown ids are
// dropped: an update never creates an item.
func (s *Store) ApplyUpdate(it model.Item) bool {
	if it.ID == "" {
		s.Reject("update", "", "missing id")
		return false
	}

	s.mu.Lock()
	i := s.indexOf(it.ID)
	if i < 0 {
		s.mu.Unlock()
		s.Reject("update", it.ID, "unknown id")
		return false
	}
	s.items[i] = it
	s.mu.Unlock()

	s.changed()
	return true
}

// ApplyDelete removes the item with the given id, if present.
func (s *Store) ApplyDelete(id model.ID) bool {
	if id == "" {
		s.Reject("delete", "", "missing id")
		return false
	}

	s.mu.Lock()
	s.tombstones[id] = struct{}{}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.mu.Unlock()

	s.changed()
	return true
}

// Seed installs the result of the initial fetch. The fetched order becomes
// the baseline; items the feed inserted earlier that the fetch does not know
// about follow it in arrival order. For ids present in both, the fetched
// record wins. Invalid, duplicate or tombstoned entries of the fetch are
// skipped.
func (s *Store) Seed(fetched []model.Item) {
	var rejected []model.Item

	s.mu.Lock()
	next := make([]model.Item, 0, len(fetched)+len(s.items))
	seen := make(map[model.ID]struct{}, len(fetched))
	for _, it := range fetched {
		if it.ID == "" {
			rejected = append(rejected, it)
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		if _, gone := s.tombstones[it.ID]; gone {
			continue
		}
		seen[it.ID] = struct{}{}
		next = append(next, it)
	}
	for _, it := range s.items {
		if _, ok := seen[it.ID]; !ok {
			next = append(next, it)
		}
	}
	s.items = next
	s.seeded = true
	s.mu.Unlock()

	for range rejected {
		s.Reject("seed", "", "missing id")
	}
	s.changed()
}

// Seeded reports whether Seed has run.
func (s *Store) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded
}

// Snapshot returns a copy of the items in display order.
func (s *Store) Snapshot() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Item(nil), s.items...)
}

// Get returns the item with the given id.
func (s *Store) Get(id model.ID) (model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], true
	}
	return model.Item{}, false
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Reject records a diagnostic for input that was dropped.
func (s *Store) Reject(op string, id model.ID, reason string) {
	d := Diagnostic{At: time.Now(), Op: op, ID: id, Reason: reason}

	s.mu.Lock()
	s.diagnostics = append(s.diagnostics, d)
	if over := len(s.diagnostics) - maxDiagnostics; over > 0 {
		s.diagnostics = append(s.diagnostics[:0:0], s.diagnostics[over:]...)
	}
	s.mu.Unlock()

	s.log.Warn("event dropped", zap.String("op", op), zap.String("id", string(id)), zap.String("reason", reason))
}

// Diagnostics returns the recorded diagnostics, oldest first.
func (s *Store) Diagnostics() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Diagnostic(nil), s.diagnostics...)
}

func (s *Store) indexOf(id model.ID) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
