package buffer_pool

import (
	"sync/atomic"
	"time"
)

// BufferPoolStats 缓冲池统计信息
type BufferPoolStats struct {
	// 命中率统计
	PageRequests int64
	PageHits     int64
	PageMisses   int64

	// IO统计
	PageReads     int64
	PageWrites    int64
	PageEvictions int64
	PagesDirtied  int64
	PagesExtended int64

	LastResetTime time.Time
}

// NewBufferPoolStats 创建新的统计对象
func NewBufferPoolStats() *BufferPoolStats {
	return &BufferPoolStats{
		LastResetTime: time.Now(),
	}
}

// RecordPageRequest 记录页面请求
func (s *BufferPoolStats) RecordPageRequest(hit bool) {
	atomic.AddInt64(&s.PageRequests, 1)
	if hit {
		atomic.AddInt64(&s.PageHits, 1)
	} else {
		atomic.AddInt64(&s.PageMisses, 1)
	}
}

// RecordPageIO 记录页面IO
func (s *BufferPoolStats) RecordPageIO(isRead bool) {
	if isRead {
		atomic.AddInt64(&s.PageReads, 1)
	} else {
		atomic.AddInt64(&s.PageWrites, 1)
	}
}

func (s *BufferPoolStats) RecordEviction() { atomic.AddInt64(&s.PageEvictions, 1) }
func (s *BufferPoolStats) RecordDirty()    { atomic.AddInt64(&s.PagesDirtied, 1) }
func (s *BufferPoolStats) RecordExtend()   { atomic.AddInt64(&s.PagesExtended, 1) }

// GetHitRatio 获取命中率
func (s *BufferPoolStats) GetHitRatio() float64 {
	requests := atomic.LoadInt64(&s.PageRequests)
	if requests == 0 {
		return 0
	}
	hits := atomic.LoadInt64(&s.PageHits)
	return float64(hits) / float64(requests)
}

// Snapshot 以map形式导出计数
func (s *BufferPoolStats) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests":  atomic.LoadInt64(&s.PageRequests),
		"hits":      atomic.LoadInt64(&s.PageHits),
		"misses":    atomic.LoadInt64(&s.PageMisses),
		"reads":     atomic.LoadInt64(&s.PageReads),
		"writes":    atomic.LoadInt64(&s.PageWrites),
		"evictions": atomic.LoadInt64(&s.PageEvictions),
		"dirtied":   atomic.LoadInt64(&s.PagesDirtied),
		"extended":  atomic.LoadInt64(&s.PagesExtended),
	}
}

// Reset 重置统计信息
func (s *BufferPoolStats) Reset() {
	atomic.StoreInt64(&s.PageRequests, 0)
	atomic.StoreInt64(&s.PageHits, 0)
	atomic.StoreInt64(&s.PageMisses, 0)
	atomic.StoreInt64(&s.PageReads, 0)
	atomic.StoreInt64(&s.PageWrites, 0)
	atomic.StoreInt64(&s.PageEvictions, 0)
	atomic.StoreInt64(&s.PagesDirtied, 0)
	atomic.StoreInt64(&s.PagesExtended, 0)
	s.LastResetTime = time.Now()
}
