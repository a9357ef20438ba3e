package gistvacuum

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/gistvac/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/manager"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// PageCache 缓冲池中vacuum用到的操作
type PageCache interface {
	ReadBuffer(blkno gist.BlockNumber) (*buffer_pool.BufferPage, error)
	ReleaseBuffer(buf *buffer_pool.BufferPage)
	UnlockReleaseBuffer(buf *buffer_pool.BufferPage, mode latch.LockMode)
	MarkBufferDirty(buf *buffer_pool.BufferPage)
	NumBlocks() gist.BlockNumber
	LockExtension()
	UnlockExtension()
}

// RedoLog 重做日志
type RedoLog interface {
	Append(entry *manager.RedoLogEntry) (gist.LSN, error)
	InsertRecPtr() gist.LSN
}

// FreeSpaceMap 空闲页面映射
type FreeSpaceMap interface {
	RecordFreeIndexPage(blkno gist.BlockNumber)
	Vacuum(nblocks gist.BlockNumber) error
}

// TransactionOracle 事务计数器和可见性判断
type TransactionOracle interface {
	ReadNextFullTransactionID() gist.FullTransactionID
	IsRemovable(xid gist.FullTransactionID) bool
}

// BulkDeleteCallback 判断一个堆元组是否已死
type BulkDeleteCallback func(tid gist.ItemPointer, state interface{}) bool

// Index 被vacuum的索引
type Index struct {
	Name   string
	Pages  PageCache
	Redo   RedoLog           // 为nil时索引不写日志，使用本地递增的假LSN
	FSM    FreeSpaceMap      // 可选
	Oracle TransactionOracle // 必须
	Local  bool              // 只有当前会话可见，扫描时不需要扩展锁

	fakeLSN atomic.Uint64
}

func (idx *Index) needsWAL() bool {
	return idx.Redo != nil
}

// GetFakeLSN 不写日志的索引用来标记页面修改顺序
func (idx *Index) GetFakeLSN() gist.LSN {
	return gist.LSN(idx.fakeLSN.Add(1))
}

// IndexVacuumInfo 一次vacuum调用的参数
type IndexVacuumInfo struct {
	Index          *Index
	AnalyzeOnly    bool
	EstimatedCount bool  // NumHeapTuples是否为估计值
	NumHeapTuples  int64 // 堆中的元组数
	Delay          DelayPoint
}

// IndexBulkDeleteResult 统计信息
type IndexBulkDeleteResult struct {
	NumPages       gist.BlockNumber // 扫描结束时的页面数
	EstimatedCount bool
	NumIndexTuples int64 // 剩余的索引元组
	TuplesRemoved  int64
	PagesDeleted   gist.BlockNumber // 已标记删除的页面，含可回收的
	PagesFree      gist.BlockNumber // 可回收的页面
	PagesRemoved   gist.BlockNumber // 本次从树中摘除的页面
}

// BulkDeleteResult 统计信息和两阶段之间传递的页号集合
type BulkDeleteResult struct {
	IndexBulkDeleteResult

	internalPageSet *PageSet
	emptyLeafSet    *PageSet
}

func NewBulkDeleteResult() *BulkDeleteResult {
	return &BulkDeleteResult{}
}

// InternalPages 扫描记录的内部页面
func (r *BulkDeleteResult) InternalPages() []gist.BlockNumber {
	if r.internalPageSet == nil {
		return nil
	}
	return r.internalPageSet.Members()
}

// EmptyLeaves 扫描记录的空叶子页面
func (r *BulkDeleteResult) EmptyLeaves() []gist.BlockNumber {
	if r.emptyLeafSet == nil {
		return nil
	}
	return r.emptyLeafSet.Members()
}

func (r *BulkDeleteResult) hasPageSets() bool {
	return r.internalPageSet != nil && r.emptyLeafSet != nil
}

func (r *BulkDeleteResult) resetPageSets() {
	r.internalPageSet = NewPageSet()
	r.emptyLeafSet = NewPageSet()
}

func (r *BulkDeleteResult) releasePageSets() {
	r.internalPageSet = nil
	r.emptyLeafSet = nil
}

// vacState 一次扫描的状态
type vacState struct {
	info          *IndexVacuumInfo
	index         *Index
	stats         *BulkDeleteResult
	callback      BulkDeleteCallback
	callbackState interface{}
	startNSN      gist.LSN

	log *logrus.Entry
}
