// Package boltstore is a key-value store backed by a bbolt database file.
package boltstore

import (
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/store"
)

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0o600

	defaultTimeout = 1 * time.Second
)

var bucket = []byte("kv")

// Client is the key-value interface for the Bolt database.
type Client struct {
	log  *zap.Logger
	db   *bolt.DB
	Path string
}

// New opens the database at path, creating it if needed.
func New(log *zap.Logger, path string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, store.Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, store.Error.Wrap(err)
	}
	log.Debug("opened bolt store", zap.String("path", path))
	return &Client{log: log, db: db, Path: path}, nil
}

func (c *Client) Get(key string) (string, error) {
	var value string
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		value = string(v)
		return nil
	})
	return value, err
}

func (c *Client) Set(key, value string) error {
	return store.Error.Wrap(c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), []byte(value))
	}))
}

// Close closes the Bolt database.
func (c *Client) Close() error {
	return store.Error.Wrap(c.db.Close())
}
