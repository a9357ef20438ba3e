package util

// 读取函数均返回新的游标位置，调用方负责保证长度足够

func ReadBytes(buff []byte, cursor int, offset int) (int, []byte) {
	if offset <= 0 {
		return cursor, nil
	}
	return cursor + offset, buff[cursor : cursor+offset]
}

func ReadByte(buff []byte, cursor int) (int, byte) {
	return cursor + 1, buff[cursor]
}

func ReadUB2(buff []byte, cursor int) (int, uint16) {
	i := uint16(buff[cursor])
	i |= uint16(buff[cursor+1]) << 8
	return cursor + 2, i
}

func ReadUB4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor])
	i |= uint32(buff[cursor+1]) << 8
	i |= uint32(buff[cursor+2]) << 16
	i |= uint32(buff[cursor+3]) << 24
	return cursor + 4, i
}

func ReadUB8(buff []byte, cursor int) (int, uint64) {
	cursor, lo := ReadUB4(buff, cursor)
	cursor, hi := ReadUB4(buff, cursor)
	return cursor, uint64(hi)<<32 | uint64(lo)
}

// ReadWithLength 读取2字节长度前缀的内容
func ReadWithLength(buff []byte, cursor int) (int, []byte) {
	cursor, length := ReadUB2(buff, cursor)
	return ReadBytes(buff, cursor, int(length))
}

// Remaining 判断从cursor起是否还有n个字节
func Remaining(buff []byte, cursor int, n int) bool {
	return cursor >= 0 && n >= 0 && cursor+n <= len(buff)
}
