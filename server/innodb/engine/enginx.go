package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/conf"
	"github.com/zhukovaskychina/gistvac/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/gistvac/server/innodb/gistvacuum"
	"github.com/zhukovaskychina/gistvac/server/innodb/manager"
	"github.com/zhukovaskychina/gistvac/server/innodb/storage/store"
)

const XID_HORIZON_FILE = "xid_horizon"

var ErrIndexNotOpen = errors.New("index is not open")

// IndexHandle 一个打开的索引及其存储、日志、缓冲池和空闲页面映射
type IndexHandle struct {
	Index *gistvacuum.Index

	store store.PageStore
	pool  *buffer_pool.BufferPool
	redo  *manager.RedoLogManager
	fsm   *manager.FSMManager
}

// Pool 索引的缓冲池
func (h *IndexHandle) Pool() *buffer_pool.BufferPool {
	return h.pool
}

// Redo 索引的重做日志
func (h *IndexHandle) Redo() *manager.RedoLogManager {
	return h.redo
}

// FSM 索引的空闲页面映射
func (h *IndexHandle) FSM() *manager.FSMManager {
	return h.fsm
}

// checkpoint 先写出脏页再推进检查点
func (h *IndexHandle) checkpoint() error {
	if err := h.pool.FlushAll(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(h.redo.Checkpoint())
}

func (h *IndexHandle) close() error {
	err := h.checkpoint()
	if cerr := h.redo.Close(); err == nil {
		err = errors.Trace(cerr)
	}
	if cerr := h.store.Close(); err == nil {
		err = errors.Trace(cerr)
	}
	return err
}

// GistEngine 管理数据目录下的GiST索引，协调各个子模块完成vacuum
type GistEngine struct {
	conf *conf.Cfg

	trxManager *manager.TransactionManager

	mu      sync.Mutex
	indexes map[string]*IndexHandle
}

// NewGistEngine 创建引擎，并从数据目录恢复事务号计数器
func NewGistEngine(cfg *conf.Cfg) (*GistEngine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Trace(err)
	}
	e := &GistEngine{
		conf:       cfg,
		trxManager: manager.NewTransactionManager(),
		indexes:    make(map[string]*IndexHandle),
	}
	if err := e.trxManager.LoadHorizon(e.horizonPath()); err != nil {
		return nil, errors.Annotate(err, "load transaction horizon")
	}
	return e, nil
}

func (e *GistEngine) horizonPath() string {
	return filepath.Join(e.conf.DataDir, XID_HORIZON_FILE)
}

// TransactionManager 所有索引共用的事务管理器
func (e *GistEngine) TransactionManager() *manager.TransactionManager {
	return e.trxManager
}

// OpenIndex 打开索引并重放重做日志，已打开时直接返回
func (e *GistEngine) OpenIndex(name string) (*IndexHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.indexes[name]; ok {
		return h, nil
	}

	h, err := e.openIndex(name)
	if err != nil {
		return nil, errors.Annotatef(err, "open index %q", name)
	}
	e.indexes[name] = h
	return h, nil
}

func (e *GistEngine) openIndex(name string) (*IndexHandle, error) {
	cfg := e.conf
	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Trace(err)
	}

	pageStore, err := store.OpenBlockFile(filepath.Join(dir, name+".gist"), cfg.PageSize, cfg.PageCacheBytes)
	if err != nil {
		return nil, errors.Trace(err)
	}
	redo, err := manager.NewRedoLogManager(&manager.RedoLogConfig{
		LogDir:        filepath.Join(cfg.RedoLogDir, name),
		BufferSize:    cfg.RedoLogBufferSize,
		FlushInterval: cfg.RedoFlushInterval,
		Compression:   cfg.RedoCompression,
	})
	if err != nil {
		pageStore.Close()
		return nil, errors.Trace(err)
	}
	h := &IndexHandle{store: pageStore, redo: redo}

	h.pool, err = buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{
		Capacity: cfg.BufferPoolPages,
		Store:    pageStore,
		WAL:      redo,
	})
	if err == nil {
		h.fsm, err = manager.NewFSMManager(filepath.Join(dir, name+".fsm"))
	}
	if err == nil {
		err = manager.NewRecoveryManager(h.pool, redo, e.trxManager).Replay()
	}
	if err != nil {
		redo.Close()
		pageStore.Close()
		return nil, errors.Trace(err)
	}

	h.Index = &gistvacuum.Index{
		Name:   name,
		Pages:  h.pool,
		Redo:   redo,
		FSM:    h.fsm,
		Oracle: e.trxManager,
		Local:  cfg.LocalIndex,
	}
	logger.Infof("index %s opened: %d blocks", name, h.pool.NumBlocks())
	return h, nil
}

// Vacuum 对索引执行一次完整的vacuum。callback为nil时只摘除空页面。
func (e *GistEngine) Vacuum(ctx context.Context, name string, callback gistvacuum.BulkDeleteCallback, state interface{}) (*gistvacuum.BulkDeleteResult, error) {
	e.mu.Lock()
	h, ok := e.indexes[name]
	e.mu.Unlock()
	if !ok {
		return nil, errors.Annotatef(ErrIndexNotOpen, "vacuum %q", name)
	}

	cfg := e.conf
	info := &gistvacuum.IndexVacuumInfo{
		Index:          h.Index,
		EstimatedCount: true,
		Delay:          gistvacuum.NewCostDelay(cfg.VacuumCostDelay, cfg.VacuumCostLimit, cfg.VacuumCostPageHit, cfg.VacuumCostPageDirty),
	}

	var stats *gistvacuum.BulkDeleteResult
	var err error
	if callback != nil {
		stats, err = gistvacuum.BulkDelete(ctx, info, nil, callback, state)
		if err != nil {
			return stats, err
		}
	}
	stats, err = gistvacuum.VacuumCleanup(ctx, info, stats)
	if err != nil {
		return stats, err
	}
	if err := e.trxManager.SaveHorizon(e.horizonPath()); err != nil {
		return stats, errors.Trace(err)
	}
	return stats, h.checkpoint()
}

// Close 写出所有索引并关闭
func (e *GistEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, h := range e.indexes {
		if err := h.close(); err != nil {
			logger.Errorf("close index %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(e.indexes, name)
	}
	if err := e.trxManager.SaveHorizon(e.horizonPath()); err != nil && firstErr == nil {
		firstErr = errors.Trace(err)
	}
	return firstErr
}
