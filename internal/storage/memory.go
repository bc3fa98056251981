package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	m.data[string(key)] = append([]byte{}, value...)
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix, in key order to
// match the disk backends.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	values := make([][]byte, len(keys))
	sort.Strings(keys)
	for i, k := range keys {
		values[i] = append([]byte(nil), m.data[k]...)
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// NewBatch returns a batch that applies its writes under one lock.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryOp struct {
	key   string
	value []byte // nil means delete
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
}

func (mb *memoryBatch) Put(key, value []byte) error {
	mb.ops = append(mb.ops, memoryOp{key: string(key), value: append([]byte{}, value...)})
	return nil
}

func (mb *memoryBatch) Delete(key []byte) error {
	mb.ops = append(mb.ops, memoryOp{key: string(key)})
	return nil
}

func (mb *memoryBatch) Commit() error {
	mb.db.mu.Lock()
	defer mb.db.mu.Unlock()
	for _, op := range mb.ops {
		if op.value == nil {
			delete(mb.db.data, op.key)
		} else {
			mb.db.data[op.key] = op.value
		}
	}
	mb.ops = nil
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}
