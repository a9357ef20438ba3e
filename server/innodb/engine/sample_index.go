package engine

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/juju/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/gistvacuum"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// SampleHeapBlock 样例索引中叶子页leaf的元组指向的表页
func SampleHeapBlock(leaf gist.BlockNumber) gist.BlockNumber {
	return 1000 + leaf
}

// BuildSampleIndex 在空索引上构建两层树：根页加leaves个叶子，每个叶子perLeaf个元组。
// 索引非空时返回错误。
func (h *IndexHandle) BuildSampleIndex(leaves, perLeaf int) error {
	if h.pool.NumBlocks() != 0 {
		return errors.Errorf("index %s is not empty", h.Index.Name)
	}
	if leaves <= 0 {
		return errors.NotValidf("leaf count %d", leaves)
	}

	root, err := h.pool.Extend()
	if err != nil {
		return errors.Trace(err)
	}
	root.Page().Init(0)
	for i := 0; i < leaves; i++ {
		leaf, err := h.pool.Extend()
		if err != nil {
			h.pool.UnlockReleaseBuffer(root, latch.LOCK_EXCLUSIVE)
			return errors.Trace(err)
		}
		blkno := leaf.BlockNumber()
		leaf.Page().Init(gist.F_LEAF)
		for n := 1; n <= perLeaf; n++ {
			tid := gist.ItemPointer{Block: SampleHeapBlock(blkno), Offset: gist.OffsetNumber(n)}
			leaf.Page().AddItem(gist.NewLeafTuple(tid, []byte(fmt.Sprintf("k%d-%d", blkno, n))))
		}
		h.pool.MarkBufferDirty(leaf)
		h.pool.UnlockReleaseBuffer(leaf, latch.LOCK_EXCLUSIVE)

		root.Page().AddItem(gist.NewDownlink(blkno, []byte(fmt.Sprintf("l%d", blkno))))
	}
	h.pool.MarkBufferDirty(root)
	h.pool.UnlockReleaseBuffer(root, latch.LOCK_EXCLUSIVE)

	return errors.Trace(h.pool.FlushAll())
}

// DeadHeapBlocks 把指向给定表页的元组都判定为死元组
func DeadHeapBlocks(blocks *roaring.Bitmap) gistvacuum.BulkDeleteCallback {
	return func(tid gist.ItemPointer, _ interface{}) bool {
		return blocks.Contains(uint32(tid.Block))
	}
}
