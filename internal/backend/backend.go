// Package backend defines the collection service the client talks to and the
// change events its feed delivers.
package backend

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/errs"

	"github.com/Makepad-fr/tada/internal/model"
)

var (
	// Error is the default error class for collection services.
	Error = errs.Class("backend")
	// ErrNotFound is returned when an id does not exist in the collection.
	ErrNotFound = Error.New("item not found")
	// ErrClosed is returned by a service that has been shut down.
	ErrClosed = Error.New("service closed")
)

// ChangeKind is the type of a change feed event.
type ChangeKind string

const (
	Inserted ChangeKind = "INSERT"
	Updated  ChangeKind = "UPDATE"
	Deleted  ChangeKind = "DELETE"
)

// Valid reports whether k is one of the three known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case Inserted, Updated, Deleted:
		return true
	}
	return false
}

// Change is one feed event. Records are kept raw: the feed is not trusted to
// deliver well-formed payloads and decoding is the consumer's job.
type Change struct {
	Kind            ChangeKind      `json:"eventType"`
	Collection      string          `json:"table"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// InsertChange builds the event emitted after a successful insert.
func InsertChange(collection string, it model.Item) Change {
	return Change{Kind: Inserted, Collection: collection, New: mustRecord(it), CommitTimestamp: time.Now().UTC()}
}

// UpdateChange builds the event emitted after a successful update.
func UpdateChange(collection string, before, after model.Item) Change {
	return Change{Kind: Updated, Collection: collection, New: mustRecord(after), Old: mustRecord(before), CommitTimestamp: time.Now().UTC()}
}

// DeleteChange builds the event emitted after a successful delete. Only the
// id is carried in the old record.
func DeleteChange(collection string, id model.ID) Change {
	old, _ := json.Marshal(struct {
		ID model.ID `json:"id"`
	}{id})
	return Change{Kind: Deleted, Collection: collection, Old: old, CommitTimestamp: time.Now().UTC()}
}

func mustRecord(it model.Item) json.RawMessage {
	b, err := json.Marshal(it)
	if err != nil {
		// model.Item only holds marshalable fields
		panic(err)
	}
	return b
}

// OrderBy selects the sort of FetchAll.
type OrderBy struct {
	Field     string
	Ascending bool
}

// ByCreatedAt is the order the client displays items in.
var ByCreatedAt = OrderBy{Field: "created_at", Ascending: true}

// String formats the order as "field.asc" or "field.desc".
func (o OrderBy) String() string {
	field := o.Field
	if field == "" {
		field = "created_at"
	}
	if o.Ascending {
		return field + ".asc"
	}
	return field + ".desc"
}

// ParseOrder is the inverse of OrderBy.String. An empty string means
// ByCreatedAt.
func ParseOrder(s string) (OrderBy, error) {
	if s == "" {
		return ByCreatedAt, nil
	}
	field, dir, _ := strings.Cut(s, ".")
	if dir != "" && dir != "asc" && dir != "desc" {
		return OrderBy{}, Error.New("bad order direction %q", dir)
	}
	order := OrderBy{Field: field, Ascending: dir != "desc"}
	if err := ValidateOrder(order); err != nil {
		return OrderBy{}, err
	}
	return order, nil
}

// Subscription is an open channel to a collection's change feed.
type Subscription interface {
	// ID identifies the subscription for diagnostics.
	ID() string
	// Done is closed once the subscription stops delivering events, either
	// because it was released or because the channel failed.
	Done() <-chan struct{}
	// Err is nil after an explicit release and the failure cause otherwise.
	// Only meaningful once Done is closed.
	Err() error
}

// Service is the authoritative collection service.
type Service interface {
	FetchAll(ctx context.Context, collection string, order OrderBy) ([]model.Item, error)
	Insert(ctx context.Context, collection string, fields model.Patch) (model.Item, error)
	Update(ctx context.Context, collection string, id model.ID, patch model.Patch) (model.Item, error)
	Delete(ctx context.Context, collection string, id model.ID) error
	// Subscribe delivers every change of collection to onEvent, in commit
	// order, from a goroutine owned by the service.
	Subscribe(ctx context.Context, collection string, onEvent func(Change)) (Subscription, error)
	Unsubscribe(sub Subscription) error
}

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateCollection rejects names that are not safe identifiers.
func ValidateCollection(name string) error {
	if !collectionName.MatchString(name) {
		return Error.New("invalid collection name %q", name)
	}
	return nil
}

// ValidateOrder rejects orderings a service cannot honor.
func ValidateOrder(order OrderBy) error {
	switch order.Field {
	case "", "created_at", "task", "is_completed":
		return nil
	}
	return Error.New("unsupported order field %q", order.Field)
}

// SortItems orders items in place. Ties keep their insertion order.
func SortItems(items []model.Item, order OrderBy) {
	less := func(a, b model.Item) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch order.Field {
	case "task":
		less = func(a, b model.Item) bool { return a.Task < b.Task }
	case "is_completed":
		less = func(a, b model.Item) bool { return !a.IsCompleted && b.IsCompleted }
	}
	sort.SliceStable(items, func(i, j int) bool {
		if order.Ascending || order.Field == "" {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}
