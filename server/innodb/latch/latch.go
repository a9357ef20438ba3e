package latch

import "sync"

// LockMode 页面锁模式
type LockMode int

const (
	LOCK_SHARE LockMode = iota + 1
	LOCK_EXCLUSIVE
)

func (m LockMode) String() string {
	switch m {
	case LOCK_SHARE:
		return "share"
	case LOCK_EXCLUSIVE:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Latch 提供了一个简单的锁机制
type Latch struct {
	mu sync.RWMutex
}

// NewLatch 创建一个新的锁
func NewLatch() *Latch {
	return &Latch{}
}

// Acquire 按模式加锁
func (l *Latch) Acquire(mode LockMode) {
	if mode == LOCK_EXCLUSIVE {
		l.mu.Lock()
		return
	}
	l.mu.RLock()
}

// Release 按模式解锁，mode必须与Acquire一致
func (l *Latch) Release(mode LockMode) {
	if mode == LOCK_EXCLUSIVE {
		l.mu.Unlock()
		return
	}
	l.mu.RUnlock()
}

// TryAcquire 尝试按模式加锁
func (l *Latch) TryAcquire(mode LockMode) bool {
	if mode == LOCK_EXCLUSIVE {
		return l.mu.TryLock()
	}
	return l.mu.TryRLock()
}
