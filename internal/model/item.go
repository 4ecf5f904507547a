package model

import (
	"bytes"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/errs"
)

// ID identifies an item. It is assigned by the backend and never changes.
type ID string

// UnmarshalJSON accepts a JSON string or a JSON number. A number keeps its
// literal text, so 2 and "2" decode to the same ID.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		return errs.New("empty id")
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) && json.Valid(b):
		*id = ID(b)
	default:
		return errs.New("id must be a string or a number, got %s", b)
	}
	return nil
}

// Item is the domain model for a todo entry.
type Item struct {
	ID          ID        `json:"id"`
	Task        string    `json:"task"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Task        *string `json:"task,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

// Apply returns a copy of it with the patch fields set.
func (p Patch) Apply(it Item) Item {
	if p.Task != nil {
		it.Task = *p.Task
	}
	if p.IsCompleted != nil {
		it.IsCompleted = *p.IsCompleted
	}
	return it
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Task == nil && p.IsCompleted == nil
}

// TaskPatch builds a patch that sets the task text.
func TaskPatch(task string) Patch {
	return Patch{Task: &task}
}

// CompletedPatch builds a patch that sets the completion flag.
func CompletedPatch(done bool) Patch {
	return Patch{IsCompleted: &done}
}

// NormalizeTask trims the text a user typed. An empty result is not a valid task.
func NormalizeTask(s string) string {
	return strings.TrimSpace(s)
}

// Stats counts done and pending items.
func Stats(items []Item) (done, pending int) {
	for _, it := range items {
		if it.IsCompleted {
			done++
		} else {
			pending++
		}
	}
	return
}
