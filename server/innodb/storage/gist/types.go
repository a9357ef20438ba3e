package gist

import "fmt"

// BlockNumber 页号，在索引文件内从0开始
type BlockNumber uint32

// OffsetNumber 页内元组序号，从1开始
type OffsetNumber uint16

// LSN 日志序列号，非日志索引使用单调递增的伪LSN
type LSN uint64

// FullTransactionID 64位事务号
type FullTransactionID uint64

const (
	InvalidBlockNumber BlockNumber = 0xFFFFFFFF
	RootBlockNumber    BlockNumber = 0

	InvalidOffsetNumber OffsetNumber = 0
	FirstOffsetNumber   OffsetNumber = 1
	MaxOffsetNumber     OffsetNumber = 0xFFFD

	InvalidLSN LSN = 0

	InvalidFullTransactionID FullTransactionID = 0
)

// 内部页元组的offset字段被用作有效性标记
const (
	TUPLE_IS_VALID   OffsetNumber = 0xFFFF
	TUPLE_IS_INVALID OffsetNumber = 0xFFFE
)

// ItemPointer 指向一个表行，或在内部页中指向子页
type ItemPointer struct {
	Block  BlockNumber
	Offset OffsetNumber
}

func (p ItemPointer) String() string {
	return fmt.Sprintf("(%d,%d)", p.Block, p.Offset)
}

// IndexTuple 索引元组
type IndexTuple struct {
	TID ItemPointer
	Key []byte
}

// NewLeafTuple 创建叶子元组
func NewLeafTuple(heap ItemPointer, key []byte) IndexTuple {
	return IndexTuple{TID: heap, Key: key}
}

// NewDownlink 创建指向子页的内部元组
func NewDownlink(child BlockNumber, key []byte) IndexTuple {
	return IndexTuple{TID: ItemPointer{Block: child, Offset: TUPLE_IS_VALID}, Key: key}
}

// IsInvalid 旧版本中未完成分裂遗留的内部元组
func (t *IndexTuple) IsInvalid() bool {
	return t.TID.Offset == TUPLE_IS_INVALID
}

// Child 内部元组指向的子页
func (t *IndexTuple) Child() BlockNumber {
	return t.TID.Block
}
