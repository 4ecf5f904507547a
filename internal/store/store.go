// Package store defines the durable key-value storage the local-only variant
// mirrors its list into.
package store

import "github.com/zeebo/errs"

var (
	// Error is the error class for key-value stores.
	Error = errs.Class("store")
	// ErrNotFound is returned by Get for a key that was never set.
	ErrNotFound = Error.New("key not found")
)

// KV is a string key-value store.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Close() error
}
