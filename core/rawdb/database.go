// Package rawdb persists the aggregator's records in a key-value store. It
// defines the store interfaces, a LevelDB backend and an in-memory backend,
// and the accessors that encode certificates, headers, network states,
// proofs and epochs under their own key prefixes (see schema.go).
package rawdb

import (
	"errors"
	"io"
)

var (
	ErrNotFound = errors.New("rawdb: not found")
	ErrClosed   = errors.New("rawdb: database closed")
)

// Reader is the read side of a store. Get returns ErrNotFound for missing
// keys.
type Reader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// Writer is the write side of a store and of a Batch.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterator walks key/value pairs in ascending key order. Returned slices
// belong to the caller.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Iterable opens prefix iterators.
type Iterable interface {
	NewIterator(prefix []byte) Iterator
}

// Batch buffers writes until Write commits them atomically. A batch may be
// Reset and reused.
type Batch interface {
	Writer
	ValueSize() int
	Write() error
	Reset()
}

// Database is implemented by LevelDB and MemoryDB.
type Database interface {
	Reader
	Writer
	Iterable
	NewBatch() Batch
	io.Closer
}
