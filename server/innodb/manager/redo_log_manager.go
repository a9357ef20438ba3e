package manager

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
	"github.com/zhukovaskychina/gistvac/util"
)

const (
	REDO_LOG_FILE        = "redo.log"
	REDO_CHECKPOINT_FILE = "redo_checkpoint"
)

// 记录体编码
const (
	CODEC_NONE uint8 = iota
	CODEC_SNAPPY
	CODEC_LZ4
)

// lsn(8) type(1) codec(1) pageID(4) bodyLen(4) checksum(4)
const (
	frameHeaderSize = 22
	checksumOffset  = 18
)

var (
	ErrLogClosed = errors.New("redo log is closed")
	// ErrLogFailed 写盘失败后日志拒绝后续所有写入，缓冲中的记录不再落盘
	ErrLogFailed = errors.New("redo log failed")
)

// RedoLogConfig 重做日志配置
type RedoLogConfig struct {
	LogDir        string
	BufferSize    int           // 缓冲的记录数，满了立即写盘
	FlushInterval time.Duration // 后台刷新间隔，0表示不启动后台刷新
	Compression   string        // none, snappy, lz4
}

// ParseCompression 解析压缩算法名称
func ParseCompression(name string) (uint8, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CODEC_NONE, nil
	case "snappy":
		return CODEC_SNAPPY, nil
	case "lz4":
		return CODEC_LZ4, nil
	}
	return CODEC_NONE, errors.Errorf("unknown redo compression %q", name)
}

// RedoLogManager 重做日志管理器
type RedoLogManager struct {
	mu            sync.Mutex
	logFile       *os.File // 日志文件
	logPath       string
	fileSize      int64    // 已持久化的文件长度
	logDir        string   // 日志目录
	logBufferSize int      // 日志缓冲区大小
	logBuffer     [][]byte // 已编码未写盘的记录
	codec         uint8
	flushInterval time.Duration // 刷新间隔

	lastLSN    gist.LSN // 最后分配的LSN
	flushedLSN gist.LSN // 已持久化的LSN

	// 检查点相关
	lastCheckpoint gist.LSN  // 最后一次检查点LSN
	checkpointTime time.Time // 最后一次检查点时间

	stats  LogStats
	closed bool
	failed error
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRedoLogManager 打开或创建重做日志，截掉崩溃留下的不完整尾部
func NewRedoLogManager(config *RedoLogConfig) (*RedoLogManager, error) {
	if config == nil || config.LogDir == "" {
		return nil, errors.New("redo log directory is required")
	}
	codec, err := ParseCompression(config.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create redo dir %s", config.LogDir)
	}

	logPath := filepath.Join(config.LogDir, REDO_LOG_FILE)
	data, err := os.ReadFile(logPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read %s", logPath)
	}
	validLen, lastLSN, err := scanFrames(data, nil)
	if err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", logPath)
	}
	if validLen < len(data) {
		logger.Warnf("redo log %s: discarding %d bytes of torn tail after LSN %d", logPath, len(data)-validLen, lastLSN)
		if err := logFile.Truncate(int64(validLen)); err != nil {
			logFile.Close()
			return nil, errors.Wrapf(err, "truncate %s", logPath)
		}
	}

	checkpoint, err := readCheckpoint(config.LogDir)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1
	}
	manager := &RedoLogManager{
		logFile:        logFile,
		logPath:        logPath,
		fileSize:       int64(validLen),
		logDir:         config.LogDir,
		logBufferSize:  bufferSize,
		logBuffer:      make([][]byte, 0, bufferSize),
		codec:          codec,
		flushInterval:  config.FlushInterval,
		lastLSN:        lastLSN,
		flushedLSN:     lastLSN,
		lastCheckpoint: checkpoint,
	}

	// 启动异步刷新协程
	if manager.flushInterval > 0 {
		manager.stopCh = make(chan struct{})
		manager.doneCh = make(chan struct{})
		go manager.backgroundFlush()
	}
	return manager, nil
}

// Append 追加一条重做日志，返回分配的LSN。记录此时不一定已持久化。
func (r *RedoLogManager) Append(entry *RedoLogEntry) (gist.LSN, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return gist.InvalidLSN, ErrLogClosed
	}
	if r.failed != nil {
		return gist.InvalidLSN, r.failed
	}

	r.lastLSN++
	entry.LSN = r.lastLSN
	frame, compressed := encodeFrame(entry, r.codec)
	r.logBuffer = append(r.logBuffer, frame)
	r.stats.TotalLogs++
	if compressed {
		r.stats.Compressed++
	}

	// 如果缓冲区满了，触发刷新
	if len(r.logBuffer) >= r.logBufferSize {
		if err := r.flushBuffer(); err != nil {
			return gist.InvalidLSN, err
		}
	}
	return entry.LSN, nil
}

// InsertRecPtr 最后分配的LSN
func (r *RedoLogManager) InsertRecPtr() gist.LSN {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLSN
}

// FlushedLSN 已经持久化的LSN
func (r *RedoLogManager) FlushedLSN() gist.LSN {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushedLSN
}

// Flush 保证upTo及之前的日志已经写盘
func (r *RedoLogManager) Flush(upTo gist.LSN) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if upTo <= r.flushedLSN {
		return nil
	}
	return r.flushBuffer()
}

// flushBuffer 将缓冲区中的日志写入文件，调用方持有r.mu。
// 写入或同步失败时把文件截回写之前的长度并进入失败状态，
// 缓冲中的记录对应的页面修改可能没有发生，不能再写出。
func (r *RedoLogManager) flushBuffer() error {
	if r.failed != nil {
		return r.failed
	}
	if len(r.logBuffer) == 0 {
		return nil
	}

	size := 0
	for _, frame := range r.logBuffer {
		size += len(frame)
	}
	out := make([]byte, 0, size)
	for _, frame := range r.logBuffer {
		out = append(out, frame...)
	}
	if _, err := r.logFile.Write(out); err != nil {
		return r.fail(errors.Wrap(err, "write redo log"))
	}
	if err := r.logFile.Sync(); err != nil {
		return r.fail(errors.Wrap(err, "sync redo log"))
	}

	// 清空缓冲区
	r.fileSize += int64(size)
	r.logBuffer = r.logBuffer[:0]
	r.flushedLSN = r.lastLSN
	r.stats.TotalBytes += uint64(size)
	r.stats.Flushes++
	return nil
}

func (r *RedoLogManager) fail(cause error) error {
	if err := os.Truncate(r.logPath, r.fileSize); err != nil {
		logger.Errorf("redo log %s: truncate to %d after failed flush: %v", r.logPath, r.fileSize, err)
	}
	r.logBuffer = nil
	r.failed = errors.Wrapf(ErrLogFailed, "%v", cause)
	logger.Errorf("redo log %s: %v; records after LSN %d are discarded", r.logPath, cause, r.flushedLSN)
	return r.failed
}

// Failed 写盘失败后返回失败原因
func (r *RedoLogManager) Failed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// backgroundFlush 后台定期刷新
func (r *RedoLogManager) backgroundFlush() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.failed == nil {
				if err := r.flushBuffer(); err != nil {
					logger.Errorf("background redo flush: %v", err)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Recover 按顺序把检查点之后的每条日志交给apply
func (r *RedoLogManager) Recover(apply func(*RedoLogEntry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flushBuffer(); err != nil {
		return err
	}
	logPath := filepath.Join(r.logDir, REDO_LOG_FILE)
	data, err := os.ReadFile(logPath)
	if err != nil {
		return errors.Wrapf(err, "read %s", logPath)
	}
	checkpoint := r.lastCheckpoint
	_, _, err = scanFrames(data, func(entry *RedoLogEntry) error {
		if entry.LSN <= checkpoint {
			return nil
		}
		return apply(entry)
	})
	return err
}

// Checkpoint 创建检查点。调用方必须已经把LSN不超过当前日志末尾的脏页全部写出。
func (r *RedoLogManager) Checkpoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 确保所有日志都已刷新
	if err := r.flushBuffer(); err != nil {
		return err
	}

	checkpointFile := filepath.Join(r.logDir, REDO_CHECKPOINT_FILE)
	tmpFile := checkpointFile + ".tmp"
	if err := os.WriteFile(tmpFile, util.WriteUB8(nil, uint64(r.flushedLSN)), 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmpFile)
	}
	if err := os.Rename(tmpFile, checkpointFile); err != nil {
		return errors.Wrapf(err, "rename %s", tmpFile)
	}

	// 更新检查点信息
	r.lastCheckpoint = r.flushedLSN
	r.checkpointTime = time.Now()
	return nil
}

// LastCheckpoint 最后一次检查点的LSN
func (r *RedoLogManager) LastCheckpoint() gist.LSN {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCheckpoint
}

// Stats 统计信息快照
func (r *RedoLogManager) Stats() LogStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close 关闭日志管理器
func (r *RedoLogManager) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.stopCh != nil {
		close(r.stopCh)
		<-r.doneCh
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 刷新所有缓冲的日志
	if err := r.flushBuffer(); err != nil {
		r.logFile.Close()
		return err
	}
	return r.logFile.Close()
}

func readCheckpoint(logDir string) (gist.LSN, error) {
	checkpointFile := filepath.Join(logDir, REDO_CHECKPOINT_FILE)
	data, err := os.ReadFile(checkpointFile)
	if os.IsNotExist(err) {
		return gist.InvalidLSN, nil
	}
	if err != nil {
		return gist.InvalidLSN, errors.Wrapf(err, "read %s", checkpointFile)
	}
	if len(data) != 8 {
		return gist.InvalidLSN, errors.Errorf("%s: expected 8 bytes, got %d", checkpointFile, len(data))
	}
	_, lsn := util.ReadUB8(data, 0)
	return gist.LSN(lsn), nil
}

func encodeFrame(entry *RedoLogEntry, codec uint8) ([]byte, bool) {
	codec, body := compressBody(codec, entry.Data)

	frame := make([]byte, 0, frameHeaderSize+len(body))
	frame = util.WriteUB8(frame, uint64(entry.LSN))
	frame = util.WriteByte(frame, entry.Type)
	frame = util.WriteByte(frame, codec)
	frame = util.WriteUB4(frame, uint32(entry.PageID))
	frame = util.WriteUB4(frame, uint32(len(body)))
	frame = util.WriteUB4(frame, 0)
	frame = util.WriteBytes(frame, body)
	util.PutUB4(frame, checksumOffset, frameChecksum(frame))
	return frame, codec != CODEC_NONE
}

func frameChecksum(frame []byte) uint32 {
	input := make([]byte, 0, len(frame)-4)
	input = append(input, frame[:checksumOffset]...)
	input = append(input, frame[frameHeaderSize:]...)
	return util.Checksum32(input)
}

// scanFrames 顺序解析日志，遇到不完整或校验失败的记录即认为到达末尾。
// 返回有效前缀的长度和最后一条记录的LSN。
func scanFrames(data []byte, fn func(*RedoLogEntry) error) (int, gist.LSN, error) {
	cursor := 0
	last := gist.InvalidLSN
	for util.Remaining(data, cursor, frameHeaderSize) {
		frameStart := cursor
		pos, lsn := util.ReadUB8(data, cursor)
		pos, typ := util.ReadByte(data, pos)
		pos, codec := util.ReadByte(data, pos)
		pos, pageID := util.ReadUB4(data, pos)
		pos, bodyLen := util.ReadUB4(data, pos)
		pos, sum := util.ReadUB4(data, pos)
		if !util.Remaining(data, pos, int(bodyLen)) {
			return frameStart, last, nil
		}
		frameEnd := pos + int(bodyLen)
		if frameChecksum(data[frameStart:frameEnd]) != sum || gist.LSN(lsn) <= last {
			return frameStart, last, nil
		}
		body, err := decompressBody(codec, data[pos:frameEnd])
		if err != nil {
			return frameStart, last, nil
		}
		last = gist.LSN(lsn)
		if fn != nil {
			entry := &RedoLogEntry{LSN: last, Type: typ, PageID: gist.BlockNumber(pageID), Data: body}
			if err := fn(entry); err != nil {
				return frameStart, last, err
			}
		}
		cursor = frameEnd
	}
	return cursor, last, nil
}

// compressBody 压缩后不更小时按原样存储
func compressBody(codec uint8, data []byte) (uint8, []byte) {
	switch codec {
	case CODEC_SNAPPY:
		encoded := snappy.Encode(nil, data)
		if len(encoded) < len(data) {
			return CODEC_SNAPPY, encoded
		}
	case CODEC_LZ4:
		dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst[4:], nil)
		if err == nil && n > 0 && n+4 < len(data) {
			util.PutUB4(dst, 0, uint32(len(data)))
			return CODEC_LZ4, dst[:4+n]
		}
	}
	return CODEC_NONE, data
}

func decompressBody(codec uint8, body []byte) ([]byte, error) {
	switch codec {
	case CODEC_NONE:
		return append([]byte(nil), body...), nil
	case CODEC_SNAPPY:
		return snappy.Decode(nil, body)
	case CODEC_LZ4:
		if !util.Remaining(body, 0, 4) {
			return nil, ErrBadRecord
		}
		_, rawLen := util.ReadUB4(body, 0)
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body[4:], out)
		if err != nil {
			return nil, err
		}
		if n != int(rawLen) {
			return nil, errors.Wrapf(ErrBadRecord, "lz4 body: got %d of %d bytes", n, rawLen)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrBadRecord, "unknown codec %d", codec)
}
