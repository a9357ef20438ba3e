package engine

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/robfig/cron/v3"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/innodb/gistvacuum"
)

var ErrVacuumInProgress = errors.New("vacuum already in progress")

var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// vacuumJob 一个索引的定时vacuum任务
type vacuumJob struct {
	name     string
	spec     string
	callback gistvacuum.BulkDeleteCallback
	state    interface{}
	entry    cron.EntryID

	lastRun   time.Time
	lastStats *gistvacuum.BulkDeleteResult
	lastErr   error
}

// VacuumScheduler 按cron表达式定时对索引做vacuum，同一个索引同时只跑一个vacuum
type VacuumScheduler struct {
	engine *GistEngine
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*vacuumJob
	running map[string]struct{}
	wg      sync.WaitGroup
}

func NewVacuumScheduler(engine *GistEngine) *VacuumScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &VacuumScheduler{
		engine:  engine,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*vacuumJob),
		running: make(map[string]struct{}),
	}
}

// Register 为索引注册定时任务，重复注册会替换原来的任务
func (s *VacuumScheduler) Register(name, spec string, callback gistvacuum.BulkDeleteCallback, state interface{}) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return errors.Annotatef(err, "invalid schedule %q for index %s", spec, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entry)
	}
	job := &vacuumJob{name: name, spec: spec, callback: callback, state: state}
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunNow(name); err != nil && errors.Cause(err) != ErrVacuumInProgress {
			logger.Errorf("scheduled vacuum of %s failed: %v", name, err)
		}
	})
	if err != nil {
		return errors.Trace(err)
	}
	job.entry = id
	s.jobs[name] = job
	logger.Infof("vacuum of %s scheduled at %q", name, spec)
	return nil
}

// RunNow 立即对索引做一次vacuum，索引正在vacuum时返回ErrVacuumInProgress
func (s *VacuumScheduler) RunNow(name string) (*gistvacuum.BulkDeleteResult, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFoundf("vacuum job for index %s", name)
	}
	if _, busy := s.running[name]; busy {
		s.mu.Unlock()
		logger.Warnf("vacuum of %s skipped: previous run still in progress", name)
		return nil, errors.Annotate(ErrVacuumInProgress, name)
	}
	s.running[name] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		s.wg.Done()
	}()

	start := time.Now()
	stats, err := s.engine.Vacuum(s.ctx, name, job.callback, job.state)

	s.mu.Lock()
	job.lastRun = start
	job.lastStats = stats
	job.lastErr = err
	s.mu.Unlock()

	if err == nil {
		logger.Infof("vacuum of %s finished in %v: %d pages deleted, %d tuples removed",
			name, time.Since(start), stats.PagesDeleted, stats.TuplesRemoved)
	}
	return stats, err
}

// LastResult 最近一次vacuum的结果
func (s *VacuumScheduler) LastResult(name string) (time.Time, *gistvacuum.BulkDeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}, nil, errors.NotFoundf("vacuum job for index %s", name)
	}
	return job.lastRun, job.lastStats, job.lastErr
}

func (s *VacuumScheduler) Start() {
	s.cron.Start()
	logger.Infof("vacuum scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop 停止调度，取消正在进行的vacuum并等待其退出
func (s *VacuumScheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.wg.Wait()
	logger.Info("vacuum scheduler stopped")
}
