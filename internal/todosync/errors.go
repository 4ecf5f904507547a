package todosync

import "github.com/zeebo/errs"

var (
	// FetchError is returned when the initial load fails.
	FetchError = errs.Class("fetch")
	// MutationError is returned when the backend rejects a command.
	MutationError = errs.Class("mutation")
	// ChannelError is a failure of the change feed subscription.
	ChannelError = errs.Class("channel")
	// MalformedEventError describes a feed event that was dropped. It never
	// reaches the user.
	MalformedEventError = errs.Class("malformed event")

	// ErrEmptyTask rejects a command carrying no task text.
	ErrEmptyTask = MutationError.New("task is empty")
)
