package buffer_pool

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/store"
)

const DEFAULT_BUFFER_POOL_PAGES = 1024

// 写出脏页后仍找不到空位时的重试次数
const maxEvictAttempts = 8

// WALFlusher 写页面之前必须先把日志刷到页面LSN
type WALFlusher interface {
	Flush(upTo gist.LSN) error
}

// BufferPoolConfig contains configuration for buffer pool
type BufferPoolConfig struct {
	Capacity int             // 页框数量
	Store    store.PageStore // 页面存储
	WAL      WALFlusher      // 为nil时不做日志先行检查
}

// BufferPool 单个索引的缓冲池
type BufferPool struct {
	mu sync.Mutex

	frames   map[gist.BlockNumber]*BufferPage
	lru      *list.List // 队首为最近使用
	capacity int
	nblocks  gist.BlockNumber

	// 扩展锁：持有期间新页面对扫描者不可见
	extendLock sync.Mutex

	store    store.PageStore
	wal      WALFlusher
	pageSize int
	stats    *BufferPoolStats
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(config *BufferPoolConfig) (*BufferPool, error) {
	if config == nil || config.Store == nil {
		return nil, NewError("new buffer pool", ErrInvalidConfig)
	}
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = DEFAULT_BUFFER_POOL_PAGES
	}
	nblocks, err := config.Store.NumBlocks()
	if err != nil {
		return nil, NewError("new buffer pool", fmt.Errorf("%w: %v", ErrIOError, err))
	}

	return &BufferPool{
		frames:   make(map[gist.BlockNumber]*BufferPage, capacity),
		lru:      list.New(),
		capacity: capacity,
		nblocks:  nblocks,
		store:    config.Store,
		wal:      config.WAL,
		pageSize: config.Store.PageSize(),
		stats:    NewBufferPoolStats(),
	}, nil
}

// ReadBuffer 固定一个页面，必要时从存储加载。返回的页框未加锁。
func (bp *BufferPool) ReadBuffer(blkno gist.BlockNumber) (*BufferPage, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if blkno >= bp.nblocks {
		return nil, NewError(fmt.Sprintf("read block %d", blkno),
			fmt.Errorf("%w: index has %d blocks", ErrPageNotFound, bp.nblocks))
	}

	if frame, ok := bp.frames[blkno]; ok {
		frame.pin()
		bp.lru.MoveToFront(frame.lruElem)
		bp.stats.RecordPageRequest(true)
		return frame, nil
	}
	bp.stats.RecordPageRequest(false)

	if err := bp.makeRoom(); err != nil {
		return nil, err
	}
	// makeRoom写脏页时释放过bp.mu
	if frame, ok := bp.frames[blkno]; ok {
		frame.pin()
		bp.lru.MoveToFront(frame.lruElem)
		return frame, nil
	}

	image, err := bp.store.ReadPage(blkno)
	if err != nil {
		if !store.IsOutOfRange(err) {
			return nil, NewError(fmt.Sprintf("read block %d", blkno), fmt.Errorf("%w: %v", ErrIOError, err))
		}
		// 已扩展但从未写出的页面
		image = make([]byte, bp.pageSize)
	}
	bp.stats.RecordPageIO(true)

	page, err := gist.DecodePage(image)
	if err != nil {
		return nil, NewError(fmt.Sprintf("read block %d", blkno), fmt.Errorf("%w: %v", ErrPageCorrupted, err))
	}

	frame := bp.install(blkno, page)
	frame.pin()
	return frame, nil
}

// ReleaseBuffer 解除固定
func (bp *BufferPool) ReleaseBuffer(buf *BufferPage) {
	if buf.unpin() < 0 {
		panic(NewError(fmt.Sprintf("release block %d", buf.blockNo), ErrNotPinned))
	}
}

// UnlockReleaseBuffer 释放内容锁并解除固定
func (bp *BufferPool) UnlockReleaseBuffer(buf *BufferPage, mode latch.LockMode) {
	buf.Unlock(mode)
	bp.ReleaseBuffer(buf)
}

// MarkBufferDirty 标记为脏页，调用方必须持有排他锁
func (bp *BufferPool) MarkBufferDirty(buf *BufferPage) {
	if !buf.dirty.Swap(true) {
		bp.stats.RecordDirty()
	}
}

// NumBlocks 当前索引长度
func (bp *BufferPool) NumBlocks() gist.BlockNumber {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.nblocks
}

// LockExtension 获取扩展锁
func (bp *BufferPool) LockExtension() {
	bp.extendLock.Lock()
}

// UnlockExtension 释放扩展锁
func (bp *BufferPool) UnlockExtension() {
	bp.extendLock.Unlock()
}

// Extend 在索引末尾分配一个全零页面。
// 返回时页面已固定并持有排他锁，扩展锁在此之前不会释放，
// 因此在扩展锁下读取长度的扫描者看不到未初始化的新页面。
func (bp *BufferPool) Extend() (*BufferPage, error) {
	bp.extendLock.Lock()
	defer bp.extendLock.Unlock()

	bp.mu.Lock()
	if err := bp.makeRoom(); err != nil {
		bp.mu.Unlock()
		return nil, err
	}
	blkno := bp.nblocks
	bp.nblocks++
	frame := bp.install(blkno, gist.NewPage())
	frame.pin()
	frame.dirty.Store(true)
	bp.stats.RecordExtend()
	bp.mu.Unlock()

	frame.Lock(latch.LOCK_EXCLUSIVE)
	return frame, nil
}

// FlushPage 写出一个脏页
func (bp *BufferPool) FlushPage(blkno gist.BlockNumber) error {
	bp.mu.Lock()
	frame, ok := bp.frames[blkno]
	if !ok {
		bp.mu.Unlock()
		return nil
	}
	frame.pin()
	bp.mu.Unlock()

	frame.Lock(latch.LOCK_SHARE)
	err := bp.flushFrame(frame)
	bp.UnlockReleaseBuffer(frame, latch.LOCK_SHARE)
	return err
}

// FlushAll 写出所有脏页并同步存储
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	blocks := make([]gist.BlockNumber, 0, len(bp.frames))
	for blkno := range bp.frames {
		blocks = append(blocks, blkno)
	}
	bp.mu.Unlock()

	for _, blkno := range blocks {
		if err := bp.FlushPage(blkno); err != nil {
			return err
		}
	}
	return bp.store.Sync()
}

// Stats 统计信息
func (bp *BufferPool) Stats() *BufferPoolStats {
	return bp.stats
}

// flushFrame 调用方至少持有共享锁
func (bp *BufferPool) flushFrame(frame *BufferPage) error {
	if !frame.IsDirty() {
		return nil
	}
	op := fmt.Sprintf("flush block %d", frame.blockNo)
	if bp.wal != nil {
		if err := bp.wal.Flush(frame.page.LSN()); err != nil {
			return NewError(op, fmt.Errorf("%w: %v", ErrFlushFailed, err))
		}
	}
	image, err := gist.EncodePage(frame.page, bp.pageSize)
	if err != nil {
		return NewError(op, fmt.Errorf("%w: %v", ErrFlushFailed, err))
	}
	if err := bp.store.WritePage(frame.blockNo, image); err != nil {
		return NewError(op, fmt.Errorf("%w: %v", ErrIOError, err))
	}
	frame.dirty.Store(false)
	bp.stats.RecordPageIO(false)
	return nil
}

// install 调用方持有bp.mu
func (bp *BufferPool) install(blkno gist.BlockNumber, page *gist.Page) *BufferPage {
	frame := newBufferPage(blkno, page)
	frame.lruElem = bp.lru.PushFront(frame)
	bp.frames[blkno] = frame
	return frame
}

// makeRoom 缓冲池满时驱逐最久未使用且未固定的页框，调用方持有bp.mu。
// 只剩脏页时固定一个脏页，释放bp.mu后再写日志和页面，
// 返回时bp.mu重新持有，但其间其他协程可能已经装入或驱逐了页框。
func (bp *BufferPool) makeRoom() error {
	for attempt := 0; len(bp.frames) >= bp.capacity; attempt++ {
		if bp.evictClean() {
			return nil
		}
		victim := bp.dirtyVictim()
		if victim == nil || attempt >= maxEvictAttempts {
			return NewError("evict", ErrBufferPoolFull)
		}

		victim.pin()
		bp.mu.Unlock()
		victim.Lock(latch.LOCK_SHARE)
		err := bp.flushFrame(victim)
		victim.Unlock(latch.LOCK_SHARE)
		bp.mu.Lock()
		victim.unpin()

		if err != nil {
			logger.Warnf("evict block %d: %v", victim.blockNo, err)
		}
	}
	return nil
}

// evictClean 驱逐最久未使用的干净页框，调用方持有bp.mu
func (bp *BufferPool) evictClean() bool {
	for elem := bp.lru.Back(); elem != nil; elem = elem.Prev() {
		frame := elem.Value.(*BufferPage)
		if frame.IsPinned() || frame.IsDirty() || !frame.latch.TryAcquire(latch.LOCK_SHARE) {
			continue
		}
		dirty := frame.IsDirty()
		frame.latch.Release(latch.LOCK_SHARE)
		if dirty {
			continue
		}
		bp.lru.Remove(elem)
		delete(bp.frames, frame.blockNo)
		bp.stats.RecordEviction()
		return true
	}
	return false
}

// dirtyVictim 最久未使用的未固定脏页，调用方持有bp.mu
func (bp *BufferPool) dirtyVictim() *BufferPage {
	for elem := bp.lru.Back(); elem != nil; elem = elem.Prev() {
		frame := elem.Value.(*BufferPage)
		if !frame.IsPinned() && frame.IsDirty() {
			return frame
		}
	}
	return nil
}
