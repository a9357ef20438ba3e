package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

func openRedo(t *testing.T, dir string, bufferSize int, compression string) *RedoLogManager {
	manager, err := NewRedoLogManager(&RedoLogConfig{LogDir: dir, BufferSize: bufferSize, Compression: compression})
	require.NoError(t, err)
	return manager
}

func collect(t *testing.T, manager *RedoLogManager) []*RedoLogEntry {
	var entries []*RedoLogEntry
	require.NoError(t, manager.Recover(func(entry *RedoLogEntry) error {
		entries = append(entries, entry)
		return nil
	}))
	return entries
}

func TestRedoLogManager(t *testing.T) {
	// 准备测试目录
	testDir := t.TempDir()

	// 创建RedoLog管理器
	manager := openRedo(t, testDir, 10, "none")
	defer manager.Close()

	t.Run("基本日志操作", func(t *testing.T) {
		entry := NewPageUpdateEntry(100, []gist.OffsetNumber{1, 3})

		// 追加日志
		lsn, err := manager.Append(entry)
		require.NoError(t, err)
		assert.Equal(t, gist.LSN(1), lsn)
		assert.Equal(t, gist.LSN(1), manager.InsertRecPtr())
		assert.Equal(t, gist.InvalidLSN, manager.FlushedLSN())

		// 刷新日志
		require.NoError(t, manager.Flush(lsn))
		assert.Equal(t, gist.LSN(1), manager.FlushedLSN())

		// 验证日志文件存在
		_, err = os.Stat(filepath.Join(testDir, REDO_LOG_FILE))
		assert.NoError(t, err)
	})

	t.Run("批量日志操作", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			_, err := manager.Append(NewPageUpdateEntry(gist.BlockNumber(100+i), []gist.OffsetNumber{1}))
			require.NoError(t, err)
		}
		// 缓冲区满时自动写盘
		assert.Equal(t, gist.LSN(21), manager.FlushedLSN())

		info, err := os.Stat(filepath.Join(testDir, REDO_LOG_FILE))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	})

	t.Run("恢复操作", func(t *testing.T) {
		require.NoError(t, manager.Flush(manager.InsertRecPtr()))

		// 创建新的管理器（模拟重启）
		newManager := openRedo(t, testDir, 10, "none")
		defer newManager.Close()
		assert.Equal(t, gist.LSN(21), newManager.InsertRecPtr())

		entries := collect(t, newManager)
		require.Len(t, entries, 21)
		for i, entry := range entries {
			assert.Equal(t, gist.LSN(i+1), entry.LSN)
			assert.Equal(t, LOG_TYPE_GIST_PAGE_UPDATE, entry.Type)
		}
		rec, err := DecodePageUpdateRecord(entries[0].Data)
		require.NoError(t, err)
		assert.Equal(t, gist.BlockNumber(100), rec.Block)
		assert.Equal(t, []gist.OffsetNumber{1, 3}, rec.Deleted)
	})

	t.Run("检查点操作", func(t *testing.T) {
		require.NoError(t, manager.Checkpoint())
		assert.Equal(t, gist.LSN(21), manager.LastCheckpoint())

		_, err := os.Stat(filepath.Join(testDir, REDO_CHECKPOINT_FILE))
		assert.NoError(t, err)

		_, err = manager.Append(NewPageUpdateEntry(7, []gist.OffsetNumber{2}))
		require.NoError(t, err)
		entries := collect(t, manager)
		require.Len(t, entries, 1)
		assert.Equal(t, gist.LSN(22), entries[0].LSN)
	})
}

func TestRedoLogCompression(t *testing.T) {
	payload := bytes.Repeat([]byte("gist-vacuum-"), 200)

	for _, compression := range []string{"snappy", "lz4"} {
		t.Run(compression, func(t *testing.T) {
			dir := t.TempDir()
			manager := openRedo(t, dir, 1, compression)
			_, err := manager.Append(&RedoLogEntry{Type: LOG_TYPE_GIST_PAGE_UPDATE, PageID: 3, Data: payload})
			require.NoError(t, err)
			// 太短的记录不压缩
			_, err = manager.Append(NewPageUpdateEntry(4, []gist.OffsetNumber{1}))
			require.NoError(t, err)
			assert.Equal(t, uint64(1), manager.Stats().Compressed)
			require.NoError(t, manager.Close())

			info, err := os.Stat(filepath.Join(dir, REDO_LOG_FILE))
			require.NoError(t, err)
			assert.Less(t, info.Size(), int64(len(payload)))

			reopened := openRedo(t, dir, 1, compression)
			defer reopened.Close()
			entries := collect(t, reopened)
			require.Len(t, entries, 2)
			assert.Equal(t, payload, entries[0].Data)
			assert.Equal(t, gist.BlockNumber(3), entries[0].PageID)
		})
	}

	t.Run("未知算法", func(t *testing.T) {
		_, err := NewRedoLogManager(&RedoLogConfig{LogDir: t.TempDir(), Compression: "zstd"})
		assert.Error(t, err)
	})
}

func TestRedoLogTornTail(t *testing.T) {
	dir := t.TempDir()
	manager := openRedo(t, dir, 1, "none")
	for i := 0; i < 3; i++ {
		_, err := manager.Append(NewPageUpdateEntry(gist.BlockNumber(i), []gist.OffsetNumber{1}))
		require.NoError(t, err)
	}
	require.NoError(t, manager.Close())

	logPath := filepath.Join(dir, REDO_LOG_FILE)
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	validSize := info.Size()

	// 模拟写到一半崩溃
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{4, 0, 0, 0, 0, 0, 0, 0, 1, 0, 9})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := openRedo(t, dir, 1, "none")
	defer reopened.Close()
	assert.Equal(t, gist.LSN(3), reopened.InsertRecPtr())

	info, err = os.Stat(logPath)
	require.NoError(t, err)
	assert.Equal(t, validSize, info.Size())

	lsn, err := reopened.Append(NewPageUpdateEntry(9, []gist.OffsetNumber{1}))
	require.NoError(t, err)
	assert.Equal(t, gist.LSN(4), lsn)
	assert.Len(t, collect(t, reopened), 4)
}

func TestRedoLogFailedFlush(t *testing.T) {
	dir := t.TempDir()
	manager := openRedo(t, dir, 1, "none")
	_, err := manager.Append(NewPageUpdateEntry(3, []gist.OffsetNumber{1}))
	require.NoError(t, err)

	logPath := filepath.Join(dir, REDO_LOG_FILE)
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	durableSize := info.Size()

	// 写到一半失败：文件尾部留下残缺的帧，随后的写入报错
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{2, 0, 0, 0, 0, 0, 0, 0, 2, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	readOnly, err := os.Open(logPath)
	require.NoError(t, err)
	writable := manager.logFile
	manager.logFile = readOnly

	rec := &PageDeleteRecord{Leaf: 7, Parent: 2, Downlink: 1, DeleteXid: 5}
	lsn, err := manager.Append(NewPageDeleteEntry(rec))
	assert.Equal(t, gist.InvalidLSN, lsn)
	assert.Equal(t, ErrLogFailed, errors.Cause(err))

	manager.logFile = writable
	require.NoError(t, readOnly.Close())

	t.Run("截回写之前的长度", func(t *testing.T) {
		info, err := os.Stat(logPath)
		require.NoError(t, err)
		assert.Equal(t, durableSize, info.Size())
	})

	t.Run("失败后拒绝写入", func(t *testing.T) {
		_, err := manager.Append(NewPageUpdateEntry(4, []gist.OffsetNumber{1}))
		assert.Equal(t, ErrLogFailed, errors.Cause(err))
		assert.Equal(t, ErrLogFailed, errors.Cause(manager.Flush(manager.InsertRecPtr())))
		assert.Equal(t, ErrLogFailed, errors.Cause(manager.Checkpoint()))
		assert.Equal(t, ErrLogFailed, errors.Cause(manager.Failed()))
		assert.NoError(t, manager.Flush(manager.FlushedLSN()))
	})

	t.Run("失败的记录不会被恢复", func(t *testing.T) {
		assert.Equal(t, ErrLogFailed, errors.Cause(manager.Close()))

		reopened := openRedo(t, dir, 1, "none")
		defer reopened.Close()
		entries := collect(t, reopened)
		require.Len(t, entries, 1)
		assert.Equal(t, gist.LSN(1), entries[0].LSN)
		assert.Equal(t, LOG_TYPE_GIST_PAGE_UPDATE, entries[0].Type)

		lsn, err := reopened.Append(NewPageUpdateEntry(5, []gist.OffsetNumber{1}))
		require.NoError(t, err)
		assert.Equal(t, gist.LSN(2), lsn)
	})
}

func TestRedoLogBackgroundFlush(t *testing.T) {
	manager, err := NewRedoLogManager(&RedoLogConfig{
		LogDir:        t.TempDir(),
		BufferSize:    100,
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	lsn, err := manager.Append(NewPageUpdateEntry(1, []gist.OffsetNumber{1}))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return manager.FlushedLSN() == lsn
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, manager.Close())
	_, err = manager.Append(NewPageUpdateEntry(1, []gist.OffsetNumber{1}))
	assert.Equal(t, ErrLogClosed, err)
}

func TestRedoLogManager_Concurrent(t *testing.T) {
	testDir := t.TempDir()
	manager := openRedo(t, testDir, 10, "snappy")
	defer manager.Close()

	// 并发写入日志
	const numGoroutines = 10
	const numEntriesPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numEntriesPerGoroutine; j++ {
				entry := NewPageUpdateEntry(gist.BlockNumber(id*1000+j), []gist.OffsetNumber{gist.OffsetNumber(j + 1)})
				if _, err := manager.Append(entry); err != nil {
					t.Error(err)
				}
			}
		}(i)
	}
	wg.Wait()

	entries := collect(t, manager)
	require.Len(t, entries, numGoroutines*numEntriesPerGoroutine)
	for i, entry := range entries {
		assert.Equal(t, gist.LSN(i+1), entry.LSN)
	}
}
