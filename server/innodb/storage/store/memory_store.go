package store

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// MemoryStore 内存页面存储，用于临时索引。
// 缓冲池丢弃后其中内容仍然保留，可以模拟崩溃后的磁盘状态。
type MemoryStore struct {
	mu       sync.RWMutex
	pageSize int
	pages    [][]byte
}

var _ PageStore = (*MemoryStore)(nil)

func NewMemoryStore(pageSize int) *MemoryStore {
	return &MemoryStore{pageSize: pageSize}
}

func (ms *MemoryStore) PageSize() int {
	return ms.pageSize
}

func (ms *MemoryStore) ReadPage(blkno gist.BlockNumber) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if int(blkno) >= len(ms.pages) {
		return nil, errors.Wrapf(ErrBlockOutOfRange, "block %d", blkno)
	}
	return append([]byte(nil), ms.pages[blkno]...), nil
}

func (ms *MemoryStore) WritePage(blkno gist.BlockNumber, image []byte) error {
	if err := checkImage(ms.pageSize, image); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for int(blkno) >= len(ms.pages) {
		ms.pages = append(ms.pages, make([]byte, ms.pageSize))
	}
	ms.pages[blkno] = append([]byte(nil), image...)
	return nil
}

func (ms *MemoryStore) NumBlocks() (gist.BlockNumber, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return gist.BlockNumber(len(ms.pages)), nil
}

func (ms *MemoryStore) Sync() error  { return nil }
func (ms *MemoryStore) Close() error { return nil }
