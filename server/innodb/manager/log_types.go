package manager

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
	"github.com/zhukovaskychina/gistvac/util"
)

// RedoLogEntry Redo日志条目
type RedoLogEntry struct {
	LSN    gist.LSN         // 日志序列号，Append时分配
	Type   uint8            // 操作类型
	PageID gist.BlockNumber // 记录涉及的第一个页面
	Data   []byte           // 操作数据(未压缩)
}

// 日志操作类型
const (
	LOG_TYPE_GIST_PAGE_UPDATE uint8 = iota + 1 // 批量删除叶子元组
	LOG_TYPE_GIST_PAGE_DELETE                  // 删除叶子并移除父页面下行指针
)

var ErrBadRecord = errors.New("malformed redo record")

// PageUpdateRecord 一个页面上的一批元组删除，序号均为删除前的位置
type PageUpdateRecord struct {
	Block   gist.BlockNumber
	Deleted []gist.OffsetNumber
}

func (r *PageUpdateRecord) Encode() []byte {
	buf := make([]byte, 0, 6+2*len(r.Deleted))
	buf = util.WriteUB4(buf, uint32(r.Block))
	buf = util.WriteUB2(buf, uint16(len(r.Deleted)))
	for _, off := range r.Deleted {
		buf = util.WriteUB2(buf, uint16(off))
	}
	return buf
}

func DecodePageUpdateRecord(data []byte) (*PageUpdateRecord, error) {
	if !util.Remaining(data, 0, 6) {
		return nil, errors.Wrapf(ErrBadRecord, "page update: %d bytes", len(data))
	}
	cursor, block := util.ReadUB4(data, 0)
	cursor, n := util.ReadUB2(data, cursor)
	if !util.Remaining(data, cursor, 2*int(n)) {
		return nil, errors.Wrapf(ErrBadRecord, "page update: %d offsets in %d bytes", n, len(data))
	}
	rec := &PageUpdateRecord{Block: gist.BlockNumber(block), Deleted: make([]gist.OffsetNumber, n)}
	for i := range rec.Deleted {
		var off uint16
		cursor, off = util.ReadUB2(data, cursor)
		rec.Deleted[i] = gist.OffsetNumber(off)
	}
	return rec, nil
}

// PageDeleteRecord 叶子删除和父页面下行指针移除必须在同一条记录里
type PageDeleteRecord struct {
	Leaf      gist.BlockNumber
	Parent    gist.BlockNumber
	Downlink  gist.OffsetNumber
	DeleteXid gist.FullTransactionID
}

const pageDeleteRecordSize = 4 + 4 + 2 + 8

func (r *PageDeleteRecord) Encode() []byte {
	buf := make([]byte, 0, pageDeleteRecordSize)
	buf = util.WriteUB4(buf, uint32(r.Leaf))
	buf = util.WriteUB4(buf, uint32(r.Parent))
	buf = util.WriteUB2(buf, uint16(r.Downlink))
	buf = util.WriteUB8(buf, uint64(r.DeleteXid))
	return buf
}

func DecodePageDeleteRecord(data []byte) (*PageDeleteRecord, error) {
	if len(data) != pageDeleteRecordSize {
		return nil, errors.Wrapf(ErrBadRecord, "page delete: %d bytes", len(data))
	}
	cursor, leaf := util.ReadUB4(data, 0)
	cursor, parent := util.ReadUB4(data, cursor)
	cursor, downlink := util.ReadUB2(data, cursor)
	_, xid := util.ReadUB8(data, cursor)
	return &PageDeleteRecord{
		Leaf:      gist.BlockNumber(leaf),
		Parent:    gist.BlockNumber(parent),
		Downlink:  gist.OffsetNumber(downlink),
		DeleteXid: gist.FullTransactionID(xid),
	}, nil
}

// NewPageUpdateEntry 构造批量删除日志
func NewPageUpdateEntry(block gist.BlockNumber, deleted []gist.OffsetNumber) *RedoLogEntry {
	rec := &PageUpdateRecord{Block: block, Deleted: deleted}
	return &RedoLogEntry{Type: LOG_TYPE_GIST_PAGE_UPDATE, PageID: block, Data: rec.Encode()}
}

// NewPageDeleteEntry 构造页面删除日志
func NewPageDeleteEntry(rec *PageDeleteRecord) *RedoLogEntry {
	return &RedoLogEntry{Type: LOG_TYPE_GIST_PAGE_DELETE, PageID: rec.Leaf, Data: rec.Encode()}
}

// LogStats 日志统计信息
type LogStats struct {
	TotalLogs  uint64 // 总日志数
	TotalBytes uint64 // 写入文件的字节数
	Compressed uint64 // 压缩存储的记录数
	Flushes    uint64 // fsync次数
}
