package manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

func TestTransactionManager(t *testing.T) {
	tm := NewTransactionManager()
	assert.Equal(t, FIRST_NORMAL_TRX_ID, tm.ReadNextFullTransactionID())

	t.Run("没有活跃事务", func(t *testing.T) {
		next := tm.ReadNextFullTransactionID()
		assert.True(t, tm.IsRemovable(next-1))
		assert.False(t, tm.IsRemovable(next))
	})

	t.Run("活跃事务阻止回收", func(t *testing.T) {
		deleteXid := tm.ReadNextFullTransactionID()
		reader := tm.Begin()
		assert.Equal(t, deleteXid, reader)
		assert.False(t, tm.IsRemovable(deleteXid))

		other := tm.Begin()
		require.NoError(t, tm.Commit(other))
		assert.False(t, tm.IsRemovable(deleteXid))
		assert.Equal(t, reader, tm.OldestActive())

		require.NoError(t, tm.Rollback(reader))
		assert.True(t, tm.IsRemovable(deleteXid))
		assert.Equal(t, 0, tm.ActiveCount())
	})

	t.Run("重复提交", func(t *testing.T) {
		xid := tm.Begin()
		require.NoError(t, tm.Commit(xid))
		assert.Equal(t, ErrInvalidTrxState, tm.Commit(xid))
	})

	t.Run("恢复推进计数器", func(t *testing.T) {
		tm.AdvanceTo(100)
		assert.Equal(t, gist.FullTransactionID(101), tm.ReadNextFullTransactionID())
		tm.AdvanceTo(50)
		assert.Equal(t, gist.FullTransactionID(101), tm.ReadNextFullTransactionID())
	})

	t.Run("horizon", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "xid_horizon")
		fresh := NewTransactionManager()
		require.NoError(t, fresh.LoadHorizon(path))
		assert.Equal(t, FIRST_NORMAL_TRX_ID, fresh.ReadNextFullTransactionID())

		require.NoError(t, tm.SaveHorizon(path))
		require.NoError(t, fresh.LoadHorizon(path))
		assert.Equal(t, tm.ReadNextFullTransactionID(), fresh.ReadNextFullTransactionID())

		require.NoError(t, os.WriteFile(path, []byte{1, 2}, 0644))
		assert.Error(t, fresh.LoadHorizon(path))
	})
}
