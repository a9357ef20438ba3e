package gistvacuum

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/gistvac/logger"
)

// BulkDelete 删除callback判定为死的索引元组，并记录空叶子和内部页面。
// stats为nil时新建，多次调用之间复用同一个stats。
func BulkDelete(ctx context.Context, info *IndexVacuumInfo, stats *BulkDeleteResult,
	callback BulkDeleteCallback, callbackState interface{}) (*BulkDeleteResult, error) {
	if err := info.validate(); err != nil {
		return stats, err
	}
	if stats == nil {
		stats = NewBulkDeleteResult()
	}

	v := newVacState(info, stats, callback, callbackState)
	start := time.Now()
	if err := v.scan(ctx); err != nil {
		v.log.Errorf("bulk delete aborted: %v", err)
		return stats, errors.Trace(err)
	}
	v.log.WithFields(logrus.Fields{
		"pages":          stats.NumPages,
		"tuples_removed": stats.TuplesRemoved,
		"tuples":         stats.NumIndexTuples,
		"empty_leaves":   stats.emptyLeafSet.NumEntries(),
		"elapsed":        time.Since(start),
	}).Info("bulk delete finished")
	return stats, nil
}

// VacuumCleanup vacuum的最后一步：摘除空叶子并整理统计信息。
// 没有先调用BulkDelete时先做一次不删除元组的扫描。
func VacuumCleanup(ctx context.Context, info *IndexVacuumInfo, stats *BulkDeleteResult) (*BulkDeleteResult, error) {
	// 只做analyze时什么都不做
	if info.AnalyzeOnly {
		return stats, nil
	}
	if err := info.validate(); err != nil {
		return stats, err
	}

	if stats == nil {
		stats = NewBulkDeleteResult()
	}
	v := newVacState(info, stats, nil, nil)
	start := time.Now()
	if !stats.hasPageSets() {
		if err := v.scan(ctx); err != nil {
			v.log.Errorf("cleanup scan aborted: %v", err)
			return stats, errors.Trace(err)
		}
	}

	removedBefore := stats.PagesRemoved
	err := v.deleteEmptyPages(ctx)
	stats.releasePageSets()
	if err != nil {
		v.log.Errorf("empty page deletion aborted: %v", err)
		return stats, errors.Trace(err)
	}

	// 并发分裂可能导致同一元组被统计两次
	if !info.EstimatedCount && stats.NumIndexTuples > info.NumHeapTuples {
		stats.NumIndexTuples = info.NumHeapTuples
	}

	v.log.WithFields(logrus.Fields{
		"pages":         stats.NumPages,
		"pages_removed": stats.PagesRemoved - removedBefore,
		"pages_deleted": stats.PagesDeleted,
		"pages_free":    stats.PagesFree,
		"elapsed":       time.Since(start),
	}).Info("vacuum cleanup finished")
	return stats, nil
}

func (info *IndexVacuumInfo) validate() error {
	if info == nil || info.Index == nil {
		return errors.New("vacuum requires an index")
	}
	if info.Index.Pages == nil || info.Index.Oracle == nil {
		return errors.Errorf("index %q: page cache and transaction oracle are required", info.Index.Name)
	}
	return nil
}

func newVacState(info *IndexVacuumInfo, stats *BulkDeleteResult, callback BulkDeleteCallback, callbackState interface{}) *vacState {
	return &vacState{
		info:          info,
		index:         info.Index,
		stats:         stats,
		callback:      callback,
		callbackState: callbackState,
		log: logger.WithFields(logrus.Fields{
			"index": info.Index.Name,
			"run":   uuid.NewString(),
		}),
	}
}
