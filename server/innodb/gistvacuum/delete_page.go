package gistvacuum

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/gistvac/server/innodb/manager"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// deletePage 把空叶子标记为删除，并移除父页面中指向它的下行指针。
// 调用方持有叶子和父页面的排他锁。
// 条件在加锁期间发生了变化时不做任何修改，返回false。
func (v *vacState) deletePage(parentBuf *buffer_pool.BufferPage, downlink gist.OffsetNumber, leafBuf *buffer_pool.BufferPage) (bool, error) {
	idx := v.index
	leaf := leafBuf.Page()
	parent := parentBuf.Page()

	// 叶子页不会变成内部页
	if !leaf.IsLeaf() {
		return false, corrupted(idx.Name, leafBuf.BlockNumber(), "empty leaf became an internal page")
	}
	// 正在分裂
	if leaf.FollowRight() {
		return false, nil
	}
	// 并发插入了新元组
	if leaf.MaxOffsetNumber() != gist.InvalidOffsetNumber {
		return false, nil
	}

	if parent.IsNew() || parent.IsDeleted() || parent.IsLeaf() {
		return false, corrupted(idx.Name, parentBuf.BlockNumber(), "parent is no longer an internal page")
	}

	// 父页面至少保留一个下行指针
	maxoff := parent.MaxOffsetNumber()
	if maxoff < downlink || maxoff <= gist.FirstOffsetNumber {
		return false, nil
	}

	// 下行指针可能被并发插入移动了
	tuple := parent.ItemAt(downlink)
	if tuple == nil || tuple.Child() != leafBuf.BlockNumber() {
		return false, nil
	}

	// 用当前的事务计数器标记删除，所有能看到这个叶子的读者结束之前不能回收
	txid := idx.Oracle.ReadNextFullTransactionID()

	lsn, err := v.logPageDelete(leafBuf.BlockNumber(), parentBuf.BlockNumber(), downlink, txid)
	if err != nil {
		return false, err
	}

	idx.Pages.MarkBufferDirty(leafBuf)
	leaf.SetDeleted(txid)
	v.stats.PagesDeleted++

	idx.Pages.MarkBufferDirty(parentBuf)
	parent.IndexTupleDelete(downlink)

	parent.SetLSN(lsn)
	leaf.SetLSN(lsn)
	return true, nil
}

func (v *vacState) logPageDelete(leaf, parent gist.BlockNumber, downlink gist.OffsetNumber, txid gist.FullTransactionID) (gist.LSN, error) {
	idx := v.index
	if !idx.needsWAL() {
		return idx.GetFakeLSN(), nil
	}
	rec := &manager.PageDeleteRecord{Leaf: leaf, Parent: parent, Downlink: downlink, DeleteXid: txid}
	lsn, err := idx.Redo.Append(manager.NewPageDeleteEntry(rec))
	if err != nil {
		return gist.InvalidLSN, errors.Annotatef(err, "index %q: log deletion of block %d", idx.Name, leaf)
	}
	return lsn, nil
}
