package gist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type horizon FullTransactionID

func (h horizon) IsRemovable(xid FullTransactionID) bool {
	return xid < FullTransactionID(h)
}

func leafWith(n int) *Page {
	p := NewInitializedPage(F_LEAF)
	for i := 1; i <= n; i++ {
		p.AddItem(NewLeafTuple(ItemPointer{Block: 100, Offset: OffsetNumber(i)}, []byte{byte(i)}))
	}
	return p
}

func TestPageFlags(t *testing.T) {
	p := NewPage()
	assert.True(t, p.IsNew())
	assert.True(t, p.IsRecyclable(horizon(0)))

	p.Init(F_LEAF)
	assert.False(t, p.IsNew())
	assert.True(t, p.IsLeaf())
	assert.Equal(t, InvalidBlockNumber, p.Rightlink())
	assert.Equal(t, InvalidOffsetNumber, p.MaxOffsetNumber())

	p.SetFollowRight()
	assert.True(t, p.FollowRight())
	p.ClearFollowRight()
	assert.False(t, p.FollowRight())

	p.SetDeleted(10)
	assert.True(t, p.IsDeleted())
	assert.Equal(t, FullTransactionID(10), p.DeleteXid())
	assert.False(t, p.IsRecyclable(horizon(10)))
	assert.True(t, p.IsRecyclable(horizon(11)))
}

func TestPageDelete(t *testing.T) {
	t.Run("批量删除使用删除前的序号", func(t *testing.T) {
		p := leafWith(5)
		removed := p.IndexMultiDelete([]OffsetNumber{4, 1, 2})
		assert.Equal(t, 3, removed)
		require.Equal(t, OffsetNumber(2), p.MaxOffsetNumber())
		assert.Equal(t, OffsetNumber(3), p.ItemAt(1).TID.Offset)
		assert.Equal(t, OffsetNumber(5), p.ItemAt(2).TID.Offset)
	})

	t.Run("单个删除后序号前移", func(t *testing.T) {
		p := NewInitializedPage(0)
		p.AddItem(NewDownlink(3, nil))
		p.AddItem(NewDownlink(4, nil))
		p.AddItem(NewDownlink(5, nil))
		assert.True(t, p.IndexTupleDelete(2))
		assert.False(t, p.IndexTupleDelete(3))
		assert.Equal(t, BlockNumber(5), p.ItemAt(2).Child())
		assert.Nil(t, p.ItemAt(0))
	})
}

func TestInvalidTuple(t *testing.T) {
	down := NewDownlink(3, nil)
	assert.False(t, down.IsInvalid())
	down.TID.Offset = TUPLE_IS_INVALID
	assert.True(t, down.IsInvalid())
}

func TestCodecRoundTrip(t *testing.T) {
	p := leafWith(3)
	p.SetLSN(42)
	p.SetNSN(40)
	p.SetRightlink(9)
	p.SetFollowRight()
	p.MarkTuplesDeleted()

	image, err := EncodePage(p, DEFAULT_PAGE_SIZE)
	require.NoError(t, err)
	require.Len(t, image, DEFAULT_PAGE_SIZE)

	decoded, err := DecodePage(image)
	require.NoError(t, err)
	assert.Equal(t, p.Flags(), decoded.Flags())
	assert.Equal(t, LSN(42), decoded.LSN())
	assert.Equal(t, LSN(40), decoded.NSN())
	assert.Equal(t, BlockNumber(9), decoded.Rightlink())
	require.Equal(t, OffsetNumber(3), decoded.MaxOffsetNumber())
	assert.Equal(t, []byte{2}, decoded.ItemAt(2).Key)
}

func TestCodecEdgeCases(t *testing.T) {
	t.Run("全零页面", func(t *testing.T) {
		p, err := DecodePage(make([]byte, DEFAULT_PAGE_SIZE))
		require.NoError(t, err)
		assert.True(t, p.IsNew())

		image, err := EncodePage(NewPage(), DEFAULT_PAGE_SIZE)
		require.NoError(t, err)
		assert.True(t, isZero(image))
	})

	t.Run("校验和不匹配", func(t *testing.T) {
		image, err := EncodePage(leafWith(1), DEFAULT_PAGE_SIZE)
		require.NoError(t, err)
		image[PAGE_HEADER_SIZE] ^= 0xFF
		_, err = DecodePage(image)
		assert.ErrorIs(t, err, ErrPageCorrupted)
	})

	t.Run("页面溢出", func(t *testing.T) {
		p := NewInitializedPage(F_LEAF)
		for i := 0; i < 10; i++ {
			p.AddItem(NewLeafTuple(ItemPointer{Block: 1, Offset: 1}, make([]byte, 100)))
		}
		_, err := EncodePage(p, MIN_PAGE_SIZE)
		assert.ErrorIs(t, err, ErrPageOverflow)
	})
}

func TestClone(t *testing.T) {
	p := leafWith(2)
	c := p.Clone()
	c.ItemAt(1).Key[0] = 99
	c.IndexTupleDelete(2)
	assert.Equal(t, byte(1), p.ItemAt(1).Key[0])
	assert.Equal(t, OffsetNumber(2), p.MaxOffsetNumber())
}
