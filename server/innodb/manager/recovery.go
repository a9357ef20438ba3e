package manager

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// RecoveryManager 崩溃恢复：把重做日志重放到缓冲池中的页面
type RecoveryManager struct {
	pool *buffer_pool.BufferPool
	redo *RedoLogManager
	trx  *TransactionManager // 可选，用于推进事务计数器

	applied int
	skipped int
}

func NewRecoveryManager(pool *buffer_pool.BufferPool, redo *RedoLogManager, trx *TransactionManager) *RecoveryManager {
	return &RecoveryManager{pool: pool, redo: redo, trx: trx}
}

// Replay 重放检查点之后的日志。页面LSN不小于记录LSN时跳过，所以可以重复执行。
func (rm *RecoveryManager) Replay() error {
	rm.applied, rm.skipped = 0, 0
	err := rm.redo.Recover(rm.apply)
	if err != nil {
		return err
	}
	logger.Infof("redo replay finished: %d page changes applied, %d already on disk", rm.applied, rm.skipped)
	return nil
}

// Applied 上次重放中实际修改的页面数
func (rm *RecoveryManager) Applied() int {
	return rm.applied
}

func (rm *RecoveryManager) apply(entry *RedoLogEntry) error {
	switch entry.Type {
	case LOG_TYPE_GIST_PAGE_UPDATE:
		rec, err := DecodePageUpdateRecord(entry.Data)
		if err != nil {
			return errors.Wrapf(err, "lsn %d", entry.LSN)
		}
		return rm.redoPage(rec.Block, entry.LSN, func(page *gist.Page) {
			page.IndexMultiDelete(rec.Deleted)
			page.MarkTuplesDeleted()
		})
	case LOG_TYPE_GIST_PAGE_DELETE:
		rec, err := DecodePageDeleteRecord(entry.Data)
		if err != nil {
			return errors.Wrapf(err, "lsn %d", entry.LSN)
		}
		if rm.trx != nil {
			rm.trx.AdvanceTo(rec.DeleteXid)
		}
		// 同一条记录的两半都要重放
		if err := rm.redoPage(rec.Leaf, entry.LSN, func(page *gist.Page) {
			page.SetDeleted(rec.DeleteXid)
		}); err != nil {
			return err
		}
		return rm.redoPage(rec.Parent, entry.LSN, func(page *gist.Page) {
			page.IndexTupleDelete(rec.Downlink)
		})
	}
	return errors.Wrapf(ErrBadRecord, "lsn %d: unknown type %d", entry.LSN, entry.Type)
}

func (rm *RecoveryManager) redoPage(blkno gist.BlockNumber, lsn gist.LSN, redo func(*gist.Page)) error {
	buf, err := rm.pool.ReadBuffer(blkno)
	if err != nil {
		if buffer_pool.IsNotFound(err) {
			logger.Warnf("redo lsn %d: block %d is beyond the end of the index, skipped", lsn, blkno)
			return nil
		}
		return err
	}
	buf.Lock(latch.LOCK_EXCLUSIVE)
	defer rm.pool.UnlockReleaseBuffer(buf, latch.LOCK_EXCLUSIVE)

	page := buf.Page()
	if page.LSN() >= lsn {
		rm.skipped++
		return nil
	}
	redo(page)
	page.SetLSN(lsn)
	rm.pool.MarkBufferDirty(buf)
	rm.applied++
	return nil
}
