package engine

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/gistvac/server/conf"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

func newTestCfg(t *testing.T) *conf.Cfg {
	cfg := conf.NewCfg()
	cfg.DataDir = t.TempDir()
	cfg.RedoLogDir = t.TempDir()
	cfg.PageSize = 1024
	cfg.BufferPoolPages = 32
	cfg.PageCacheBytes = 1 << 20
	cfg.RedoFlushInterval = 0
	return cfg
}

func newEngine(t *testing.T, cfg *conf.Cfg) *GistEngine {
	e, err := NewGistEngine(cfg)
	require.NoError(t, err)
	return e
}

func readPage(t *testing.T, h *IndexHandle, blkno gist.BlockNumber) *gist.Page {
	buf, err := h.Pool().ReadBuffer(blkno)
	require.NoError(t, err)
	buf.Lock(latch.LOCK_SHARE)
	defer h.Pool().UnlockReleaseBuffer(buf, latch.LOCK_SHARE)
	return buf.Page().Clone()
}

// deadLeaves 叶子页上的元组全部判定为死元组
func deadLeaves(leaves ...gist.BlockNumber) *roaring.Bitmap {
	blocks := roaring.New()
	for _, leaf := range leaves {
		blocks.Add(uint32(SampleHeapBlock(leaf)))
	}
	return blocks
}

func TestGistEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("vacuum删除空叶子并持久化", func(t *testing.T) {
		cfg := newTestCfg(t)
		e := newEngine(t, cfg)
		h, err := e.OpenIndex("points_idx")
		require.NoError(t, err)
		require.NoError(t, h.BuildSampleIndex(4, 3))

		stats, err := e.Vacuum(ctx, "points_idx", DeadHeapBlocks(deadLeaves(1, 2)), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(6), stats.TuplesRemoved)
		assert.Equal(t, int64(6), stats.NumIndexTuples)
		assert.Equal(t, gist.BlockNumber(2), stats.PagesDeleted)
		assert.Equal(t, gist.BlockNumber(2), stats.PagesRemoved)
		assert.Equal(t, gist.BlockNumber(5), stats.NumPages)

		root := readPage(t, h, gist.RootBlockNumber)
		require.Equal(t, gist.OffsetNumber(2), root.MaxOffsetNumber())
		assert.Equal(t, gist.BlockNumber(3), root.ItemAt(1).Child())
		assert.Equal(t, gist.BlockNumber(4), root.ItemAt(2).Child())
		require.NoError(t, e.Close())

		// 重新打开后删除标记仍在，下一次vacuum把页面交给FSM
		e = newEngine(t, cfg)
		defer e.Close()
		h, err = e.OpenIndex("points_idx")
		require.NoError(t, err)
		assert.True(t, readPage(t, h, 1).IsDeleted())
		assert.True(t, readPage(t, h, 2).IsDeleted())

		xid := e.TransactionManager().Begin()
		require.NoError(t, e.TransactionManager().Commit(xid))

		stats, err = e.Vacuum(ctx, "points_idx", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, gist.BlockNumber(2), stats.PagesDeleted)
		assert.Equal(t, gist.BlockNumber(2), stats.PagesFree)
		assert.Equal(t, gist.BlockNumber(0), stats.PagesRemoved)
		assert.True(t, h.FSM().IsFree(1))
		assert.True(t, h.FSM().IsFree(2))
	})

	t.Run("保留最后一个下行链接", func(t *testing.T) {
		e := newEngine(t, newTestCfg(t))
		defer e.Close()
		h, err := e.OpenIndex("floor_idx")
		require.NoError(t, err)
		require.NoError(t, h.BuildSampleIndex(2, 2))

		stats, err := e.Vacuum(ctx, "floor_idx", DeadHeapBlocks(deadLeaves(1, 2)), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.TuplesRemoved)
		assert.Equal(t, gist.BlockNumber(1), stats.PagesDeleted)
		assert.Equal(t, gist.OffsetNumber(1), readPage(t, h, gist.RootBlockNumber).MaxOffsetNumber())
	})

	t.Run("重复打开返回同一个句柄", func(t *testing.T) {
		e := newEngine(t, newTestCfg(t))
		defer e.Close()
		h1, err := e.OpenIndex("a")
		require.NoError(t, err)
		h2, err := e.OpenIndex("a")
		require.NoError(t, err)
		assert.Same(t, h1, h2)
	})

	t.Run("未打开的索引", func(t *testing.T) {
		e := newEngine(t, newTestCfg(t))
		_, err := e.Vacuum(ctx, "missing", nil, nil)
		assert.Equal(t, ErrIndexNotOpen, errors.Cause(err))
	})

	t.Run("样例索引只能建在空索引上", func(t *testing.T) {
		e := newEngine(t, newTestCfg(t))
		defer e.Close()
		h, err := e.OpenIndex("b")
		require.NoError(t, err)
		assert.True(t, errors.IsNotValid(h.BuildSampleIndex(0, 1)))
		require.NoError(t, h.BuildSampleIndex(1, 1))
		assert.Error(t, h.BuildSampleIndex(1, 1))
	})

	t.Run("非法页面大小", func(t *testing.T) {
		cfg := newTestCfg(t)
		cfg.PageSize = 16
		e := newEngine(t, cfg)
		_, err := e.OpenIndex("c")
		assert.Error(t, err)
	})
}
