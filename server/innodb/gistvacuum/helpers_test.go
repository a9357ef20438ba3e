package gistvacuum

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/gistvac/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/gistvac/server/innodb/latch"
	"github.com/zhukovaskychina/gistvac/server/innodb/manager"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/store"
)

const testPageSize = 1024

type testIndex struct {
	store   *store.MemoryStore
	pool    *buffer_pool.BufferPool
	redo    *manager.RedoLogManager
	redoDir string
	trx     *manager.TransactionManager
	fsm     *manager.FSMManager
	index   *Index
}

func newTestIndex(t *testing.T, logged bool) *testIndex {
	fsm, err := manager.NewFSMManager("")
	require.NoError(t, err)
	ti := &testIndex{
		store: store.NewMemoryStore(testPageSize),
		trx:   manager.NewTransactionManager(),
		fsm:   fsm,
	}

	var wal buffer_pool.WALFlusher
	if logged {
		ti.redoDir = t.TempDir()
		ti.redo = ti.openRedo(t)
		wal = ti.redo
	}
	ti.pool, err = buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{Capacity: 64, Store: ti.store, WAL: wal})
	require.NoError(t, err)

	ti.index = &Index{Name: "test_gist_idx", Pages: ti.pool, FSM: ti.fsm, Oracle: ti.trx}
	if logged {
		ti.index.Redo = ti.redo
	}
	return ti
}

func (ti *testIndex) openRedo(t *testing.T) *manager.RedoLogManager {
	redo, err := manager.NewRedoLogManager(&manager.RedoLogConfig{LogDir: ti.redoDir, BufferSize: 100})
	require.NoError(t, err)
	t.Cleanup(func() { redo.Close() })
	return redo
}

func (ti *testIndex) info() *IndexVacuumInfo {
	return &IndexVacuumInfo{Index: ti.index, EstimatedCount: true}
}

// addPage 在索引末尾分配并初始化一个页面
func (ti *testIndex) addPage(t *testing.T, flags uint16, tuples ...gist.IndexTuple) gist.BlockNumber {
	buf, err := ti.pool.Extend()
	require.NoError(t, err)
	buf.Page().Init(flags)
	for _, tup := range tuples {
		buf.Page().AddItem(tup)
	}
	ti.pool.MarkBufferDirty(buf)
	blkno := buf.BlockNumber()
	ti.pool.UnlockReleaseBuffer(buf, latch.LOCK_EXCLUSIVE)
	return blkno
}

// modify 模拟并发的前台修改
func (ti *testIndex) modify(t *testing.T, blkno gist.BlockNumber, fn func(p *gist.Page)) {
	buf, err := ti.pool.ReadBuffer(blkno)
	require.NoError(t, err)
	buf.Lock(latch.LOCK_EXCLUSIVE)
	fn(buf.Page())
	ti.pool.MarkBufferDirty(buf)
	ti.pool.UnlockReleaseBuffer(buf, latch.LOCK_EXCLUSIVE)
}

func (ti *testIndex) page(t *testing.T, blkno gist.BlockNumber) *gist.Page {
	return readPage(t, ti.pool, blkno)
}

func readPage(t *testing.T, pool *buffer_pool.BufferPool, blkno gist.BlockNumber) *gist.Page {
	buf, err := pool.ReadBuffer(blkno)
	require.NoError(t, err)
	buf.Lock(latch.LOCK_SHARE)
	defer pool.UnlockReleaseBuffer(buf, latch.LOCK_SHARE)
	return buf.Page().Clone()
}

func downlinks(t *testing.T, pool *buffer_pool.BufferPool, blkno gist.BlockNumber) []gist.BlockNumber {
	page := readPage(t, pool, blkno)
	var children []gist.BlockNumber
	for off := gist.FirstOffsetNumber; off <= page.MaxOffsetNumber(); off++ {
		children = append(children, page.ItemAt(off).Child())
	}
	return children
}

func heapTID(leaf gist.BlockNumber, n int) gist.ItemPointer {
	return gist.ItemPointer{Block: 1000 + leaf, Offset: gist.OffsetNumber(n)}
}

func leafTuples(leaf gist.BlockNumber, n int) []gist.IndexTuple {
	tuples := make([]gist.IndexTuple, 0, n)
	for i := 1; i <= n; i++ {
		tuples = append(tuples, gist.NewLeafTuple(heapTID(leaf, i), []byte(fmt.Sprintf("k%d-%d", leaf, i))))
	}
	return tuples
}

// buildTree 三层树：根0，内部页1和2，各带fanout个叶子，叶子从3开始编号，每个叶子两个元组
func (ti *testIndex) buildTree(t *testing.T, fanout int) {
	root := ti.addPage(t, 0)
	inner := []gist.BlockNumber{ti.addPage(t, 0), ti.addPage(t, 0)}
	ti.modify(t, root, func(p *gist.Page) {
		for _, blk := range inner {
			p.AddItem(gist.NewDownlink(blk, []byte(fmt.Sprintf("i%d", blk))))
		}
	})
	for _, parent := range inner {
		for i := 0; i < fanout; i++ {
			leaf := ti.addPage(t, gist.F_LEAF)
			ti.modify(t, leaf, func(p *gist.Page) {
				for _, tup := range leafTuples(leaf, 2) {
					p.AddItem(tup)
				}
			})
			ti.modify(t, parent, func(p *gist.Page) {
				p.AddItem(gist.NewDownlink(leaf, []byte(fmt.Sprintf("l%d", leaf))))
			})
		}
	}
}

// buildFlat 两层树：根0直接指向nleaves个叶子
func (ti *testIndex) buildFlat(t *testing.T, nleaves int) {
	root := ti.addPage(t, 0)
	for i := 0; i < nleaves; i++ {
		leaf := ti.addPage(t, gist.F_LEAF)
		ti.modify(t, leaf, func(p *gist.Page) {
			for _, tup := range leafTuples(leaf, 2) {
				p.AddItem(tup)
			}
		})
		ti.modify(t, root, func(p *gist.Page) {
			p.AddItem(gist.NewDownlink(leaf, []byte(fmt.Sprintf("l%d", leaf))))
		})
	}
}

type deadSet map[gist.ItemPointer]bool

func isDead(tid gist.ItemPointer, state interface{}) bool {
	return state.(deadSet)[tid]
}

func deadLeaf(leaves ...gist.BlockNumber) deadSet {
	dead := deadSet{}
	for _, leaf := range leaves {
		dead[heapTID(leaf, 1)] = true
		dead[heapTID(leaf, 2)] = true
	}
	return dead
}

// hookDelay 第n次调用时执行hook，用来在扫描中途模拟并发操作
type hookDelay struct {
	calls int
	hooks map[int]func()
	pages int
}

func (h *hookDelay) Delay(ctx context.Context) error {
	if hook, ok := h.hooks[h.calls]; ok {
		hook()
	}
	h.calls++
	return ctx.Err()
}

func (h *hookDelay) AccountPage(dirtied bool) {
	h.pages++
}
