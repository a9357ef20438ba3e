package gist

// 页面opaque标志位
const (
	F_LEAF           uint16 = 1 << 0
	F_DELETED        uint16 = 1 << 1
	F_TUPLES_DELETED uint16 = 1 << 2
	F_FOLLOW_RIGHT   uint16 = 1 << 3
	F_HAS_GARBAGE    uint16 = 1 << 4
)

// RemovableChecker 判断一个事务号是否已早于所有可能仍在运行的读者
type RemovableChecker interface {
	IsRemovable(xid FullTransactionID) bool
}

// Page GiST页面的内存形式。
// 未初始化的页面(全零)IsNew为true。
type Page struct {
	initialized bool
	lsn         LSN
	flags       uint16
	nsn         LSN
	rightlink   BlockNumber
	deleteXid   FullTransactionID
	tuples      []IndexTuple
}

// NewPage 创建一个全零的新页面
func NewPage() *Page {
	return &Page{}
}

// NewInitializedPage 创建并初始化页面
func NewInitializedPage(flags uint16) *Page {
	p := NewPage()
	p.Init(flags)
	return p
}

// Init 初始化页面，清空所有元组
func (p *Page) Init(flags uint16) {
	p.initialized = true
	p.flags = flags
	p.nsn = InvalidLSN
	p.rightlink = InvalidBlockNumber
	p.deleteXid = InvalidFullTransactionID
	p.tuples = nil
}

func (p *Page) IsNew() bool         { return !p.initialized }
func (p *Page) IsLeaf() bool        { return p.flags&F_LEAF != 0 }
func (p *Page) IsDeleted() bool     { return p.flags&F_DELETED != 0 }
func (p *Page) FollowRight() bool   { return p.flags&F_FOLLOW_RIGHT != 0 }
func (p *Page) TuplesDeleted() bool { return p.flags&F_TUPLES_DELETED != 0 }
func (p *Page) Flags() uint16       { return p.flags }

func (p *Page) SetFollowRight()   { p.flags |= F_FOLLOW_RIGHT }
func (p *Page) ClearFollowRight() { p.flags &^= F_FOLLOW_RIGHT }

// MarkTuplesDeleted 记录页面曾被删除过元组，扫描据此判断是否需要重新定位
func (p *Page) MarkTuplesDeleted() { p.flags |= F_TUPLES_DELETED }

func (p *Page) LSN() LSN                     { return p.lsn }
func (p *Page) SetLSN(lsn LSN)               { p.lsn = lsn }
func (p *Page) NSN() LSN                     { return p.nsn }
func (p *Page) SetNSN(nsn LSN)               { p.nsn = nsn }
func (p *Page) Rightlink() BlockNumber       { return p.rightlink }
func (p *Page) SetRightlink(blk BlockNumber) { p.rightlink = blk }
func (p *Page) DeleteXid() FullTransactionID { return p.deleteXid }

// SetDeleted 标记页面已删除，xid用于判断何时可以回收
func (p *Page) SetDeleted(xid FullTransactionID) {
	p.flags |= F_DELETED
	p.deleteXid = xid
}

// IsRecyclable 页面是否可以被重新分配：从未初始化，或删除事务已早于所有读者
func (p *Page) IsRecyclable(h RemovableChecker) bool {
	if p.IsNew() {
		return true
	}
	return p.IsDeleted() && h.IsRemovable(p.deleteXid)
}

// MaxOffsetNumber 页内最大的元组序号，空页为InvalidOffsetNumber
func (p *Page) MaxOffsetNumber() OffsetNumber {
	return OffsetNumber(len(p.tuples))
}

// ItemAt 读取指定序号的元组，越界返回nil
func (p *Page) ItemAt(off OffsetNumber) *IndexTuple {
	if off < FirstOffsetNumber || int(off) > len(p.tuples) {
		return nil
	}
	return &p.tuples[off-1]
}

// AddItem 追加元组，返回其序号
func (p *Page) AddItem(t IndexTuple) OffsetNumber {
	p.tuples = append(p.tuples, t)
	return OffsetNumber(len(p.tuples))
}

// IndexTupleDelete 删除一个元组，之后的元组序号前移一位
func (p *Page) IndexTupleDelete(off OffsetNumber) bool {
	if p.ItemAt(off) == nil {
		return false
	}
	p.tuples = append(p.tuples[:off-1], p.tuples[off:]...)
	return true
}

// IndexMultiDelete 一次删除多个元组，序号均指删除前的位置
func (p *Page) IndexMultiDelete(offsets []OffsetNumber) int {
	if len(offsets) == 0 {
		return 0
	}
	drop := make(map[OffsetNumber]struct{}, len(offsets))
	for _, off := range offsets {
		drop[off] = struct{}{}
	}
	kept := p.tuples[:0]
	removed := 0
	for i := range p.tuples {
		if _, ok := drop[OffsetNumber(i+1)]; ok {
			removed++
			continue
		}
		kept = append(kept, p.tuples[i])
	}
	for i := len(kept); i < len(p.tuples); i++ {
		p.tuples[i] = IndexTuple{}
	}
	p.tuples = kept
	return removed
}

// Clone 深拷贝页面
func (p *Page) Clone() *Page {
	c := *p
	c.tuples = make([]IndexTuple, len(p.tuples))
	for i, t := range p.tuples {
		c.tuples[i] = IndexTuple{TID: t.TID, Key: append([]byte(nil), t.Key...)}
	}
	return &c
}
