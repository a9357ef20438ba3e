package buffer_pool

import (
	"container/list"
	"sync/atomic"

	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

/*
BufferPage 缓冲池中的一个页框。
pin保证页框不被驱逐；内容锁(latch)保护page本身，读需共享锁，修改需排他锁。
*/
type BufferPage struct {
	blockNo  gist.BlockNumber
	page     *gist.Page
	pinCount int32
	dirty    atomic.Bool
	latch    *latch.Latch

	// 由BufferPool.mu保护
	lruElem *list.Element
}

func newBufferPage(blkno gist.BlockNumber, page *gist.Page) *BufferPage {
	return &BufferPage{
		blockNo: blkno,
		page:    page,
		latch:   latch.NewLatch(),
	}
}

// BlockNumber 页号
func (bp *BufferPage) BlockNumber() gist.BlockNumber {
	return bp.blockNo
}

// Page 页面内容，调用方必须持有相应的内容锁
func (bp *BufferPage) Page() *gist.Page {
	return bp.page
}

// Lock 获取内容锁
func (bp *BufferPage) Lock(mode latch.LockMode) {
	bp.latch.Acquire(mode)
}

// Unlock 释放内容锁
func (bp *BufferPage) Unlock(mode latch.LockMode) {
	bp.latch.Release(mode)
}

// IsPinned 检查是否被固定
func (bp *BufferPage) IsPinned() bool {
	return atomic.LoadInt32(&bp.pinCount) > 0
}

// IsDirty 检查是否为脏页
func (bp *BufferPage) IsDirty() bool {
	return bp.dirty.Load()
}

func (bp *BufferPage) pin() {
	atomic.AddInt32(&bp.pinCount, 1)
}

func (bp *BufferPage) unpin() int32 {
	return atomic.AddInt32(&bp.pinCount, -1)
}
