package rawdb

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBConfig tunes the LevelDB backend.
type LevelDBConfig struct {
	// Cache is the block cache size in MiB.
	Cache int `mapstructure:"cache"`
	// Handles is the number of open files LevelDB may hold.
	Handles int `mapstructure:"handles"`
}

// DefaultLevelDBConfig returns a config suited to a single aggregator node.
func DefaultLevelDBConfig() LevelDBConfig {
	return LevelDBConfig{Cache: 64, Handles: 256}
}

// LevelDB is a persistent Database backed by goleveldb. LevelDB handles its
// own synchronization.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens or creates a LevelDB database at path. An empty path
// opens an in-memory instance.
func NewLevelDB(path string, config LevelDBConfig) (*LevelDB, error) {
	if config.Cache <= 0 {
		config.Cache = 64
	}
	if config.Handles <= 0 {
		config.Handles = 256
	}
	options := &opt.Options{
		BlockCacheCapacity:     config.Cache * opt.MiB,
		OpenFilesCacheCapacity: config.Handles,
		WriteBuffer:            config.Cache / 4 * opt.MiB,
	}

	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), options)
	} else {
		db, err = leveldb.OpenFile(path, options)
	}
	if err != nil {
		return nil, fmt.Errorf("rawdb: open leveldb at %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, ErrClosed
	}
	return data, err
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

// NewIterator returns an iterator over all keys with the given prefix.
func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return &levelIterator{it: l.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

// NewBatch creates a batch committed with a single LevelDB write.
func (l *LevelDB) NewBatch() Batch {
	return newBatch(func(b *leveldb.Batch) error { return l.db.Write(b, nil) })
}

// levelIterator adapts the goleveldb iterator. Keys are copied because
// goleveldb reuses its buffers.
type levelIterator struct {
	it iterator.Iterator
}

func (i *levelIterator) Next() bool { return i.it.Next() }

func (i *levelIterator) Key() []byte { return append([]byte(nil), i.it.Key()...) }

func (i *levelIterator) Value() []byte { return append([]byte(nil), i.it.Value()...) }

func (i *levelIterator) Error() error { return i.it.Error() }

func (i *levelIterator) Release() { i.it.Release() }
