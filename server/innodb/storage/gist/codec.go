package gist

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/util"
)

/*
页面磁盘格式(小端序)

	| checksum(4) | magic(2) | flags(2) | lsn(8) | nsn(8) | rightlink(4) | deleteXid(8) | ntuples(2) |
	| tuple: block(4) offset(2) keyLen(2) key ... |
	| 零填充至页面大小 |

checksum覆盖magic之后的全部字节。全零页面解码为未初始化页面。
*/

const (
	PAGE_MAGIC        uint16 = 0x4753
	PAGE_HEADER_SIZE         = 4 + 2 + 2 + 8 + 8 + 4 + 8 + 2
	TUPLE_HEADER_SIZE        = 4 + 2 + 2

	DEFAULT_PAGE_SIZE = 8192
	MIN_PAGE_SIZE     = 512
)

var (
	ErrPageCorrupted = errors.New("gist page is corrupted")
	ErrPageOverflow  = errors.New("gist page content exceeds page size")
)

// EncodePage 将页面编码为pageSize字节的镜像
func EncodePage(p *Page, pageSize int) ([]byte, error) {
	if pageSize < MIN_PAGE_SIZE {
		return nil, errors.Errorf("invalid page size %d", pageSize)
	}
	if p.IsNew() {
		return make([]byte, pageSize), nil
	}

	buf := make([]byte, 4, pageSize)
	buf = util.WriteUB2(buf, PAGE_MAGIC)
	buf = util.WriteUB2(buf, p.flags)
	buf = util.WriteUB8(buf, uint64(p.lsn))
	buf = util.WriteUB8(buf, uint64(p.nsn))
	buf = util.WriteUB4(buf, uint32(p.rightlink))
	buf = util.WriteUB8(buf, uint64(p.deleteXid))
	buf = util.WriteUB2(buf, uint16(len(p.tuples)))
	for i := range p.tuples {
		t := &p.tuples[i]
		buf = util.WriteUB4(buf, uint32(t.TID.Block))
		buf = util.WriteUB2(buf, uint16(t.TID.Offset))
		buf = util.WriteWithLength(buf, t.Key)
		if len(buf) > pageSize {
			return nil, errors.Wrapf(ErrPageOverflow, "%d tuples", len(p.tuples))
		}
	}
	image := make([]byte, pageSize)
	copy(image, buf)
	util.PutUB4(image, 0, util.Checksum32(image[4:]))
	return image, nil
}

// DecodePage 解析页面镜像，校验和不匹配返回ErrPageCorrupted
func DecodePage(image []byte) (*Page, error) {
	if len(image) < MIN_PAGE_SIZE {
		return nil, errors.Wrapf(ErrPageCorrupted, "short page image of %d bytes", len(image))
	}
	if isZero(image) {
		return NewPage(), nil
	}

	cursor, checksum := util.ReadUB4(image, 0)
	if checksum != util.Checksum32(image[4:]) {
		return nil, errors.Wrap(ErrPageCorrupted, "checksum mismatch")
	}
	cursor, magic := util.ReadUB2(image, cursor)
	if magic != PAGE_MAGIC {
		return nil, errors.Wrapf(ErrPageCorrupted, "bad magic 0x%04x", magic)
	}

	p := &Page{initialized: true}
	var v64 uint64
	var v32 uint32
	var n uint16
	cursor, p.flags = util.ReadUB2(image, cursor)
	cursor, v64 = util.ReadUB8(image, cursor)
	p.lsn = LSN(v64)
	cursor, v64 = util.ReadUB8(image, cursor)
	p.nsn = LSN(v64)
	cursor, v32 = util.ReadUB4(image, cursor)
	p.rightlink = BlockNumber(v32)
	cursor, v64 = util.ReadUB8(image, cursor)
	p.deleteXid = FullTransactionID(v64)
	cursor, n = util.ReadUB2(image, cursor)

	p.tuples = make([]IndexTuple, 0, n)
	for i := 0; i < int(n); i++ {
		if !util.Remaining(image, cursor, TUPLE_HEADER_SIZE) {
			return nil, errors.Wrapf(ErrPageCorrupted, "tuple %d header out of bounds", i+1)
		}
		var t IndexTuple
		var off, keyLen uint16
		cursor, v32 = util.ReadUB4(image, cursor)
		cursor, off = util.ReadUB2(image, cursor)
		t.TID = ItemPointer{Block: BlockNumber(v32), Offset: OffsetNumber(off)}
		_, keyLen = util.ReadUB2(image, cursor)
		if !util.Remaining(image, cursor+2, int(keyLen)) {
			return nil, errors.Wrapf(ErrPageCorrupted, "tuple %d key out of bounds", i+1)
		}
		var key []byte
		cursor, key = util.ReadWithLength(image, cursor)
		t.Key = append([]byte(nil), key...)
		p.tuples = append(p.tuples, t)
	}
	return p, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
