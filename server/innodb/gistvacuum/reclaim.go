package gistvacuum

import (
	"context"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/gistvac/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// deleteEmptyPages 第二阶段：遍历扫描记录的内部页面，
// 找到指向空叶子的下行指针，把这些叶子从树上摘除。
func (v *vacState) deleteEmptyPages(ctx context.Context) error {
	stats := v.stats
	emptyPagesRemaining := stats.emptyLeafSet.NumEntries()

	stats.internalPageSet.BeginIterate()
	for emptyPagesRemaining > 0 {
		blkno, ok := stats.internalPageSet.IterateNext()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}

		examined, err := v.deleteEmptyChildren(blkno)
		if err != nil {
			return err
		}
		if examined >= emptyPagesRemaining {
			emptyPagesRemaining = 0
		} else {
			emptyPagesRemaining -= examined
		}
	}
	return nil
}

// deleteEmptyChildren 处理一个内部页面，返回找到的候选下行指针数
func (v *vacState) deleteEmptyChildren(blkno gist.BlockNumber) (uint64, error) {
	idx := v.index
	stats := v.stats

	buf, err := idx.Pages.ReadBuffer(blkno)
	if err != nil {
		return 0, errors.Annotatef(err, "index %q: read block %d", idx.Name, blkno)
	}
	defer idx.Pages.ReleaseBuffer(buf)

	buf.Lock(latch.LOCK_SHARE)
	page := buf.Page()

	if page.IsNew() || page.IsDeleted() || page.IsLeaf() {
		buf.Unlock(latch.LOCK_SHARE)
		return 0, corrupted(idx.Name, blkno, "recorded internal page is no longer an internal page")
	}

	// 至少留一个下行指针不检查，这一轮不会把父页面删空
	maxoff := int(page.MaxOffsetNumber())
	var todelete []gist.OffsetNumber
	var leafsToDelete []gist.BlockNumber
	for off := 1; off <= maxoff && len(todelete) < maxoff-1; off++ {
		leafblk := page.ItemAt(gist.OffsetNumber(off)).Child()
		if stats.emptyLeafSet.IsMember(leafblk) {
			leafsToDelete = append(leafsToDelete, leafblk)
			todelete = append(todelete, gist.OffsetNumber(off))
		}
	}

	// 读取其他页面之前先释放锁
	buf.Unlock(latch.LOCK_SHARE)

	deleted := 0
	for i := range todelete {
		buf.Lock(latch.LOCK_SHARE)
		atFloor := page.MaxOffsetNumber() <= gist.FirstOffsetNumber
		buf.Unlock(latch.LOCK_SHARE)
		if atFloor {
			break
		}

		ok, err := v.deleteChild(buf, todelete[i]-gist.OffsetNumber(deleted), leafsToDelete[i])
		if err != nil {
			return uint64(len(todelete)), err
		}
		if ok {
			deleted++
			stats.PagesRemoved++
		}
		v.log.WithFields(logrus.Fields{"parent": blkno, "leaf": leafsToDelete[i], "deleted": ok}).Debug("unlink empty leaf")
	}
	return uint64(len(todelete)), nil
}

// deleteChild 先锁叶子再锁父页面，和插入路径的加锁顺序不冲突
func (v *vacState) deleteChild(parentBuf *buffer_pool.BufferPage, downlink gist.OffsetNumber, leafblk gist.BlockNumber) (bool, error) {
	idx := v.index

	leafBuf, err := idx.Pages.ReadBuffer(leafblk)
	if err != nil {
		return false, errors.Annotatef(err, "index %q: read block %d", idx.Name, leafblk)
	}
	leafBuf.Lock(latch.LOCK_EXCLUSIVE)
	defer idx.Pages.UnlockReleaseBuffer(leafBuf, latch.LOCK_EXCLUSIVE)

	if err := v.checkPage(leafBuf); err != nil {
		return false, err
	}

	parentBuf.Lock(latch.LOCK_EXCLUSIVE)
	defer parentBuf.Unlock(latch.LOCK_EXCLUSIVE)
	return v.deletePage(parentBuf, downlink, leafBuf)
}

// checkPage 从树上读到的页面不应该是全零页
func (v *vacState) checkPage(buf *buffer_pool.BufferPage) error {
	if buf.Page().IsNew() {
		return corrupted(v.index.Name, buf.BlockNumber(), "contains unexpected zero page")
	}
	return nil
}
