package store

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

var ErrBlockOutOfRange = errors.New("block is beyond the end of the page store")

// PageStore 定长页面的持久化存储
type PageStore interface {
	PageSize() int
	ReadPage(blkno gist.BlockNumber) ([]byte, error)
	WritePage(blkno gist.BlockNumber, image []byte) error
	NumBlocks() (gist.BlockNumber, error)
	Sync() error
	Close() error
}

func checkImage(pageSize int, image []byte) error {
	if len(image) != pageSize {
		return errors.Errorf("page image is %d bytes, want %d", len(image), pageSize)
	}
	return nil
}

// IsOutOfRange 检查是否为越界读取
func IsOutOfRange(err error) bool {
	return errors.Is(err, ErrBlockOutOfRange)
}
