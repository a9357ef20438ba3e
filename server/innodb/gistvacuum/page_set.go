package gistvacuum

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/juju/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// PageSet 页号集合，只能按升序添加，只能顺序遍历一次
type PageSet struct {
	bitmap    *roaring.Bitmap
	last      gist.BlockNumber
	empty     bool
	iter      roaring.IntPeekable
	iterating bool
}

func NewPageSet() *PageSet {
	return &PageSet{bitmap: roaring.New(), empty: true}
}

// Add 添加成员，必须大于之前所有成员
func (s *PageSet) Add(blkno gist.BlockNumber) error {
	if s.iterating {
		return errors.Trace(ErrPageSetBusy)
	}
	if !s.empty && blkno <= s.last {
		return errors.Annotatef(ErrPageSetOrder, "block %d after %d", blkno, s.last)
	}
	s.bitmap.Add(uint32(blkno))
	s.last = blkno
	s.empty = false
	return nil
}

func (s *PageSet) IsMember(blkno gist.BlockNumber) bool {
	return s.bitmap.Contains(uint32(blkno))
}

func (s *PageSet) NumEntries() uint64 {
	return s.bitmap.GetCardinality()
}

// BeginIterate 开始遍历，之后不能再添加成员
func (s *PageSet) BeginIterate() {
	s.iter = s.bitmap.Iterator()
	s.iterating = true
}

// IterateNext 返回下一个成员，遍历结束时ok为false
func (s *PageSet) IterateNext() (gist.BlockNumber, bool) {
	if !s.iterating || !s.iter.HasNext() {
		return gist.InvalidBlockNumber, false
	}
	return gist.BlockNumber(s.iter.Next()), true
}

// Members 按升序返回全部成员
func (s *PageSet) Members() []gist.BlockNumber {
	members := make([]gist.BlockNumber, 0, s.bitmap.GetCardinality())
	for _, v := range s.bitmap.ToArray() {
		members = append(members, gist.BlockNumber(v))
	}
	return members
}
