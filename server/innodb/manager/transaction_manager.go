package manager

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
	"github.com/zhukovaskychina/gistvac/util"
)

var (
	ErrInvalidTrxState = errors.New("invalid transaction state")
)

// FIRST_NORMAL_TRX_ID 之前的事务号保留
const FIRST_NORMAL_TRX_ID gist.FullTransactionID = 3

// TransactionManager 事务管理器。
// 只维护事务号计数器和活跃事务集合，供页面回收判断可见性。
type TransactionManager struct {
	mu                 sync.RWMutex
	nextTrxID          gist.FullTransactionID              // 下一个事务ID
	activeTransactions map[gist.FullTransactionID]struct{} // 活跃事务
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		nextTrxID:          FIRST_NORMAL_TRX_ID,
		activeTransactions: make(map[gist.FullTransactionID]struct{}),
	}
}

// Begin 分配事务号并登记为活跃
func (tm *TransactionManager) Begin() gist.FullTransactionID {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	xid := tm.nextTrxID
	tm.nextTrxID++
	tm.activeTransactions[xid] = struct{}{}
	return xid
}

// Commit 结束事务
func (tm *TransactionManager) Commit(xid gist.FullTransactionID) error {
	return tm.finish(xid)
}

// Rollback 回滚事务，对可见性的影响与提交相同
func (tm *TransactionManager) Rollback(xid gist.FullTransactionID) error {
	return tm.finish(xid)
}

func (tm *TransactionManager) finish(xid gist.FullTransactionID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, ok := tm.activeTransactions[xid]; !ok {
		return ErrInvalidTrxState
	}
	delete(tm.activeTransactions, xid)
	return nil
}

// ReadNextFullTransactionID 当前的全局事务计数器
func (tm *TransactionManager) ReadNextFullTransactionID() gist.FullTransactionID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.nextTrxID
}

// AdvanceTo 恢复时把计数器推进到已知最大值之后
func (tm *TransactionManager) AdvanceTo(xid gist.FullTransactionID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if xid >= tm.nextTrxID {
		tm.nextTrxID = xid + 1
	}
}

// OldestActive 最老的活跃事务号，没有活跃事务时为下一个事务号
func (tm *TransactionManager) OldestActive() gist.FullTransactionID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.oldestActiveLocked()
}

func (tm *TransactionManager) oldestActiveLocked() gist.FullTransactionID {
	oldest := tm.nextTrxID
	for xid := range tm.activeTransactions {
		if xid < oldest {
			oldest = xid
		}
	}
	return oldest
}

// IsRemovable xid是否早于所有可能仍在运行的事务
func (tm *TransactionManager) IsRemovable(xid gist.FullTransactionID) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return xid < tm.oldestActiveLocked()
}

// ActiveCount 活跃事务数
func (tm *TransactionManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeTransactions)
}

// SaveHorizon 把下一个事务号写入文件，重启后删除页面上的xid不会超前于计数器
func (tm *TransactionManager) SaveHorizon(path string) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, util.WriteUB8(nil, uint64(tm.ReadNextFullTransactionID())), 0644); err != nil {
		return err
	}
	return os.Rename(tmpFile, path)
}

// LoadHorizon 从SaveHorizon写的文件推进计数器，文件不存在时什么都不做
func (tm *TransactionManager) LoadHorizon(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) != 8 {
		return fmt.Errorf("%s: expected 8 bytes, got %d", path, len(data))
	}
	_, next := util.ReadUB8(data, 0)
	if next > 0 {
		tm.AdvanceTo(gist.FullTransactionID(next - 1))
	}
	return nil
}
