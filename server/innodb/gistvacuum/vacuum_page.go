package gistvacuum

import (
	"context"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/manager"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

const rootBlockNumber = gist.RootBlockNumber

// vacuumPage 处理一个页面。如果发现并发分裂把元组移到了已经扫过的页面，
// 就继续处理那个页面，直到不再需要回头。
// origBlkno是外层扫描的页号，回头处理的页面不加入页号集合。
func (v *vacState) vacuumPage(ctx context.Context, blkno, origBlkno gist.BlockNumber) error {
	for {
		if err := v.delayPoint(ctx); err != nil {
			return err
		}
		recurseTo, err := v.processPage(blkno, origBlkno)
		if err != nil {
			return err
		}
		if recurseTo == gist.InvalidBlockNumber {
			return nil
		}
		v.log.WithFields(logrus.Fields{"block": recurseTo, "from": blkno}).Debug("revisiting page moved by concurrent split")
		blkno = recurseTo
	}
}

func (v *vacState) delayPoint(ctx context.Context) error {
	if v.info.Delay != nil {
		return v.info.Delay.Delay(ctx)
	}
	return errors.Trace(ctx.Err())
}

// processPage 在排他锁下处理一个页面，返回需要回头处理的页号
func (v *vacState) processPage(blkno, origBlkno gist.BlockNumber) (gist.BlockNumber, error) {
	idx := v.index
	stats := v.stats

	buf, err := idx.Pages.ReadBuffer(blkno)
	if err != nil {
		return gist.InvalidBlockNumber, errors.Annotatef(err, "index %q: read block %d", idx.Name, blkno)
	}
	// 停留时间很短，直接加排他锁
	buf.Lock(latch.LOCK_EXCLUSIVE)
	defer idx.Pages.UnlockReleaseBuffer(buf, latch.LOCK_EXCLUSIVE)

	page := buf.Page()
	recurseTo := gist.InvalidBlockNumber
	dirtied := false

	switch {
	case page.IsRecyclable(idx.Oracle):
		if idx.FSM != nil {
			idx.FSM.RecordFreeIndexPage(blkno)
		}
		stats.PagesFree++
		stats.PagesDeleted++

	case page.IsDeleted():
		// 已删除，但还有读者可能访问
		stats.PagesDeleted++

	case page.IsLeaf():
		// 扫描开始后发生的分裂可能把元组移到了编号更小的页面。
		// 编号更大的页面稍后会扫到，不需要回头。
		if (page.FollowRight() || v.startNSN < page.NSN()) &&
			page.Rightlink() != gist.InvalidBlockNumber &&
			page.Rightlink() < origBlkno {
			recurseTo = page.Rightlink()
		}

		var todelete []gist.OffsetNumber
		if v.callback != nil {
			maxoff := page.MaxOffsetNumber()
			for off := gist.FirstOffsetNumber; off <= maxoff; off++ {
				if v.callback(page.ItemAt(off).TID, v.callbackState) {
					todelete = append(todelete, off)
				}
			}
		}

		// 每个页面只写一条日志
		if len(todelete) > 0 {
			lsn, err := v.logPageUpdate(blkno, todelete)
			if err != nil {
				return gist.InvalidBlockNumber, err
			}
			idx.Pages.MarkBufferDirty(buf)
			page.IndexMultiDelete(todelete)
			page.MarkTuplesDeleted()
			page.SetLSN(lsn)
			dirtied = true

			stats.TuplesRemoved += int64(len(todelete))
		}

		nremain := int64(page.MaxOffsetNumber())
		if nremain == 0 {
			// 回头处理的页面不按升序，留给下一次vacuum
			if blkno == origBlkno {
				if err := stats.emptyLeafSet.Add(blkno); err != nil {
					return gist.InvalidBlockNumber, errors.Trace(err)
				}
			}
		} else {
			stats.NumIndexTuples += nremain
		}

	default:
		maxoff := page.MaxOffsetNumber()
		for off := gist.FirstOffsetNumber; off <= maxoff; off++ {
			if page.ItemAt(off).IsInvalid() {
				v.log.WithFields(logrus.Fields{"block": blkno, "offset": off}).
					Warnf("index %q contains an inner tuple marked as invalid, left by an incomplete page split; REINDEX it", idx.Name)
			}
		}
		if blkno == origBlkno {
			if err := stats.internalPageSet.Add(blkno); err != nil {
				return gist.InvalidBlockNumber, errors.Trace(err)
			}
		}
	}

	if v.info.Delay != nil {
		v.info.Delay.AccountPage(dirtied)
	}
	return recurseTo, nil
}

// logPageUpdate 必须在修改页面之前调用，日志写失败时页面保持原样
func (v *vacState) logPageUpdate(blkno gist.BlockNumber, todelete []gist.OffsetNumber) (gist.LSN, error) {
	idx := v.index
	if !idx.needsWAL() {
		return idx.GetFakeLSN(), nil
	}
	lsn, err := idx.Redo.Append(manager.NewPageUpdateEntry(blkno, todelete))
	if err != nil {
		return gist.InvalidLSN, errors.Annotatef(err, "index %q: log tuple removal on block %d", idx.Name, blkno)
	}
	return lsn, nil
}
