package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

// BlockFile 以页为单位读写的索引文件，带有页面镜像读缓存
type BlockFile struct {
	mu       sync.RWMutex
	file     *os.File
	filePath string
	pageSize int

	// 只缓存干净的页面镜像，写入时失效
	cache *ristretto.Cache[uint64, []byte]
}

var _ PageStore = (*BlockFile)(nil)

// OpenBlockFile 打开或创建索引文件，cacheBytes为0时不启用读缓存
func OpenBlockFile(filePath string, pageSize int, cacheBytes int64) (*BlockFile, error) {
	if pageSize < gist.MIN_PAGE_SIZE {
		return nil, errors.Errorf("invalid page size %d", pageSize)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", filePath)
	}
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filePath)
	}

	bf := &BlockFile{
		file:     file,
		filePath: filePath,
		pageSize: pageSize,
	}
	if cacheBytes > 0 {
		counters := cacheBytes / int64(pageSize) * 10
		if counters < 1000 {
			counters = 1000
		}
		bf.cache, err = ristretto.NewCache(&ristretto.Config[uint64, []byte]{
			NumCounters: counters,
			MaxCost:     cacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			file.Close()
			return nil, errors.Wrap(err, "create page cache")
		}
	}
	return bf, nil
}

func (bf *BlockFile) PageSize() int {
	return bf.pageSize
}

// ReadPage 读取一个页面镜像，返回的切片归调用方所有
func (bf *BlockFile) ReadPage(blkno gist.BlockNumber) ([]byte, error) {
	if bf.cache != nil {
		if image, ok := bf.cache.Get(uint64(blkno)); ok {
			return append([]byte(nil), image...), nil
		}
	}

	bf.mu.RLock()
	defer bf.mu.RUnlock()
	if bf.file == nil {
		return nil, errors.Errorf("%s is closed", bf.filePath)
	}

	nblocks, err := bf.numBlocks()
	if err != nil {
		return nil, err
	}
	if blkno >= nblocks {
		return nil, errors.Wrapf(ErrBlockOutOfRange, "block %d of %s", blkno, bf.filePath)
	}

	buf := make([]byte, bf.pageSize)
	if _, err := bf.file.ReadAt(buf, int64(blkno)*int64(bf.pageSize)); err != nil {
		return nil, errors.Wrapf(err, "read block %d of %s", blkno, bf.filePath)
	}
	if bf.cache != nil {
		bf.cache.Set(uint64(blkno), append([]byte(nil), buf...), int64(bf.pageSize))
		bf.cache.Wait()
	}
	return buf, nil
}

// WritePage 写入页面镜像，超出文件末尾时文件随之扩展
func (bf *BlockFile) WritePage(blkno gist.BlockNumber, image []byte) error {
	if err := checkImage(bf.pageSize, image); err != nil {
		return err
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.file == nil {
		return errors.Errorf("%s is closed", bf.filePath)
	}

	if _, err := bf.file.WriteAt(image, int64(blkno)*int64(bf.pageSize)); err != nil {
		return errors.Wrapf(err, "write block %d of %s", blkno, bf.filePath)
	}
	if bf.cache != nil {
		bf.cache.Del(uint64(blkno))
	}
	return nil
}

// NumBlocks 文件中完整页面的数量
func (bf *BlockFile) NumBlocks() (gist.BlockNumber, error) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.numBlocks()
}

func (bf *BlockFile) numBlocks() (gist.BlockNumber, error) {
	if bf.file == nil {
		return 0, errors.Errorf("%s is closed", bf.filePath)
	}
	stat, err := bf.file.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", bf.filePath)
	}
	return gist.BlockNumber(stat.Size() / int64(bf.pageSize)), nil
}

// Sync syncs the file to disk
func (bf *BlockFile) Sync() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file != nil {
		return bf.file.Sync()
	}
	return nil
}

// Close closes the block file
func (bf *BlockFile) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.cache != nil {
		bf.cache.Close()
		bf.cache = nil
	}
	if bf.file != nil {
		err := bf.file.Close()
		bf.file = nil
		return err
	}
	return nil
}
