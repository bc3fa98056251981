package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var boltBucket = []byte("kv")

// BoltDB implements DB using a single bbolt bucket.
type BoltDB struct {
	db *bbolt.DB
}

// NewBolt opens or creates a bbolt database file at path. The parent
// directory is created if it does not exist.
func NewBolt(path string) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if err == bbolt.ErrTimeout {
			return nil, fmt.Errorf("database at %s is locked by another process (is another clusterd instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt create bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v, ok := boltLookup(tx, key)
		if !ok {
			return ErrNotFound
		}
		val = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("bolt get: %w", err)
	}
	return val, nil
}

// boltLookup finds key with a cursor so that zero-length values are told
// apart from missing keys.
func boltLookup(tx *bbolt.Tx, key []byte) ([]byte, bool) {
	k, v := tx.Bucket(boltBucket).Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

// Put stores a key-value pair.
func (b *BoltDB) Put(key, value []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BoltDB) Delete(key []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BoltDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		_, exists = boltLookup(tx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bolt has: %w", err)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix.
func (b *BoltDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(append([]byte(nil), k...), append([]byte{}, v...)); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch returns a batch committed in a single bbolt transaction, so a
// commit is atomic.
func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b.db}
}

type boltBatch struct {
	db  *bbolt.DB
	ops []memoryOp
}

func (bb *boltBatch) Put(key, value []byte) error {
	bb.ops = append(bb.ops, memoryOp{key: string(key), value: append([]byte{}, value...)})
	return nil
}

func (bb *boltBatch) Delete(key []byte) error {
	bb.ops = append(bb.ops, memoryOp{key: string(key)})
	return nil
}

func (bb *boltBatch) Commit() error {
	err := bb.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, op := range bb.ops {
			var err error
			if op.value == nil {
				err = bucket.Delete([]byte(op.key))
			} else {
				err = bucket.Put([]byte(op.key), op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt batch commit: %w", err)
	}
	bb.ops = nil
	return nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
