// Package storage provides the key-value abstraction checkpoints are
// written to, with Badger, bbolt and in-memory backends.
package storage

import "errors"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in ascending
	// key order. The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch buffers writes and applies them on Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by backends that can group many writes into
// fewer transactions.
type Batcher interface {
	NewBatch() Batch
}

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Open opens the named backend at path. The memory backend ignores path.
func Open(backend, path string) (DB, error) {
	switch backend {
	case BackendBadger, "":
		return NewBadger(path)
	case BackendBolt:
		return NewBolt(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage backend " + backend)
	}
}
