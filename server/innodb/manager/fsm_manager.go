package manager

import (
	"bytes"
	"math"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// FSMManager 索引的空闲页面映射
type FSMManager struct {
	mu   sync.Mutex
	free *roaring.Bitmap
	path string // 为空时只在内存中维护
}

// NewFSMManager 创建空闲页面映射，path存在时加载上次保存的内容
func NewFSMManager(path string) (*FSMManager, error) {
	fsm := &FSMManager{free: roaring.New(), path: path}
	if path == "" {
		return fsm, nil
	}
	if err := fsm.load(); err != nil {
		return nil, err
	}
	return fsm, nil
}

func (f *FSMManager) load() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read fsm %s", f.path)
	}
	if _, err := f.free.ReadFrom(bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "decode fsm %s", f.path)
	}
	logger.Debugf("loaded %d free pages from %s", f.free.GetCardinality(), f.path)
	return nil
}

// RecordFreeIndexPage 记录页面可以重新分配
func (f *FSMManager) RecordFreeIndexPage(blkno gist.BlockNumber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free.Add(uint32(blkno))
}

// RecordUsedIndexPage 页面重新被使用
func (f *FSMManager) RecordUsedIndexPage(blkno gist.BlockNumber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free.Remove(uint32(blkno))
}

// GetFreeIndexPage 取出编号最小的空闲页面
func (f *FSMManager) GetFreeIndexPage() (gist.BlockNumber, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.free.IsEmpty() {
		return gist.InvalidBlockNumber, false
	}
	blkno := f.free.Minimum()
	f.free.Remove(blkno)
	return gist.BlockNumber(blkno), true
}

// IsFree 页面是否被记录为空闲
func (f *FSMManager) IsFree(blkno gist.BlockNumber) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free.Contains(uint32(blkno))
}

// FreeCount 空闲页面数
func (f *FSMManager) FreeCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free.GetCardinality()
}

// Vacuum 去掉超出索引长度的记录，压缩位图并持久化
func (f *FSMManager) Vacuum(nblocks gist.BlockNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.free.RemoveRange(uint64(nblocks), uint64(math.MaxUint32)+1)
	f.free.RunOptimize()
	if f.path == "" {
		return nil
	}

	var buf bytes.Buffer
	if _, err := f.free.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "encode fsm")
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, f.path), "rename %s", tmp)
}
