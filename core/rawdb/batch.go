package rawdb

import "github.com/syndtr/goleveldb/leveldb"

// batch buffers writes in a leveldb.Batch for both backends. commit applies
// the buffered operations atomically.
type batch struct {
	b      leveldb.Batch
	size   int
	commit func(*leveldb.Batch) error
}

func newBatch(commit func(*leveldb.Batch) error) *batch {
	return &batch{commit: commit}
}

func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int { return b.size }
func (b *batch) Write() error   { return b.commit(&b.b) }

func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}
