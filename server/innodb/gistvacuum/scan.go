package gistvacuum

import (
	"context"

	"github.com/juju/errors"
)

// scan 按物理顺序访问索引的每个页面。
// 扫描期间索引可能变长，所以每轮结束后在扩展锁下重新读取长度，
// 直到游标追上长度为止。扩展者在扩展锁下分配新页面并立即加排他锁，
// 因此这里不会把尚未初始化的新页面当成可回收页面。
func (v *vacState) scan(ctx context.Context) error {
	idx := v.index
	stats := v.stats

	stats.EstimatedCount = false
	stats.NumIndexTuples = 0
	stats.PagesDeleted = 0
	stats.PagesFree = 0
	stats.resetPageSets()

	if idx.needsWAL() {
		v.startNSN = idx.Redo.InsertRecPtr()
	} else {
		v.startNSN = idx.GetFakeLSN()
	}

	needLock := !idx.Local
	blkno := rootBlockNumber
	numPages := blkno
	for {
		if needLock {
			idx.Pages.LockExtension()
		}
		numPages = idx.Pages.NumBlocks()
		if needLock {
			idx.Pages.UnlockExtension()
		}

		if blkno >= numPages {
			break
		}
		for ; blkno < numPages; blkno++ {
			if err := v.vacuumPage(ctx, blkno, blkno); err != nil {
				return errors.Trace(err)
			}
		}
	}

	// 没有可回收页面时不必整理空闲映射
	if stats.PagesFree > 0 && idx.FSM != nil {
		if err := idx.FSM.Vacuum(numPages); err != nil {
			return errors.Annotatef(err, "index %q: vacuum free space map", idx.Name)
		}
	}

	stats.NumPages = numPages
	return nil
}
