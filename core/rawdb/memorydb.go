package rawdb

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// MemoryDB is a Database kept in a goleveldb skiplist. It backs tests and
// the "memory" storage engine; Close discards the contents.
type MemoryDB struct {
	mu sync.RWMutex // write-held by batches and Close
	db *memdb.DB
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{db: memdb.New(comparer.DefaultComparer, 0)}
}

func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return false, ErrClosed
	}
	return m.db.Contains(key), nil
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, ErrClosed
	}
	value, err := m.db.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// memdb hands out views into its arena.
	return append([]byte(nil), value...), nil
}

func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return ErrClosed
	}
	return m.db.Put(key, value)
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return ErrClosed
	}
	if err := m.db.Delete(key); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	return nil
}

// Close drops the contents. Every later call fails with ErrClosed.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = nil
	return nil
}

// Len returns the number of live keys.
func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return 0
	}
	return m.db.Len()
}

// NewBatch returns a batch applied under the write lock, so readers see
// none or all of it.
func (m *MemoryDB) NewBatch() Batch {
	return newBatch(func(b *leveldb.Batch) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.db == nil {
			return ErrClosed
		}
		return b.Replay(memReplay{m.db})
	})
}

// NewIterator returns an iterator over a snapshot of the keys with the
// given prefix. Unlike a bare memdb iterator it is unaffected by later
// writes.
func (m *MemoryDB) NewIterator(prefix []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return &sliceIterator{err: ErrClosed}
	}
	it := m.db.NewIterator(util.BytesPrefix(prefix))
	defer it.Release()

	var items []kv
	for it.Next() {
		items = append(items, kv{
			key:   append([]byte(nil), it.Key()...),
			value: append([]byte(nil), it.Value()...),
		})
	}
	return &sliceIterator{items: items, pos: -1, err: it.Error()}
}

// memReplay applies a leveldb.Batch to a memdb.
type memReplay struct{ db *memdb.DB }

func (r memReplay) Put(key, value []byte) { r.db.Put(key, value) }
func (r memReplay) Delete(key []byte)     { r.db.Delete(key) }

type kv struct {
	key, value []byte
}

type sliceIterator struct {
	items []kv
	pos   int
	err   error
}

func (it *sliceIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	return it.pos < len(it.items)
}

func (it *sliceIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].key
}

func (it *sliceIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].value
}

func (it *sliceIterator) Error() error { return it.err }
func (it *sliceIterator) Release()     { it.items = nil }
