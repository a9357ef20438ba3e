package gistvacuum

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

var (
	// ErrIndexCorrupted 结构不变式被破坏，本次vacuum必须中止
	ErrIndexCorrupted = errors.New("index corrupted")
	ErrPageSetOrder   = errors.New("page set members must be added in ascending order")
	ErrPageSetBusy    = errors.New("cannot add to page set while iterating")
)

func corrupted(index string, blkno gist.BlockNumber, format string, args ...interface{}) error {
	args = append([]interface{}{index, blkno}, args...)
	return errors.Annotatef(ErrIndexCorrupted, "index %q block %d: "+format, args...)
}

// IsIndexCorrupted 判断错误是否由索引损坏引起
func IsIndexCorrupted(err error) bool {
	return errors.Cause(err) == ErrIndexCorrupted
}
