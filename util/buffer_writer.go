package util

// 页面与日志记录统一使用小端序编码

func WriteByte(buf []byte, b byte) []byte {
	return append(buf, b)
}

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUB2(buf []byte, i uint16) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	return buf
}

func WriteUB4(buf []byte, i uint32) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	return buf
}

func WriteUB8(buf []byte, i uint64) []byte {
	buf = WriteUB4(buf, uint32(i))
	return WriteUB4(buf, uint32(i>>32))
}

// WriteWithLength 写入2字节长度前缀加内容
func WriteWithLength(buf []byte, from []byte) []byte {
	buf = WriteUB2(buf, uint16(len(from)))
	return append(buf, from...)
}

// PutUB4 在固定位置覆盖写入4字节
func PutUB4(buf []byte, cursor int, i uint32) {
	buf[cursor] = byte(i & 0xFF)
	buf[cursor+1] = byte((i >> 8) & 0xFF)
	buf[cursor+2] = byte((i >> 16) & 0xFF)
	buf[cursor+3] = byte((i >> 24) & 0xFF)
}
