// Package cron runs periodic jobs, at most one instance per job across the
// deployment when Redis is configured.
package cron

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/logging"
)

type JobFunc func(ctx context.Context) error

type Job struct {
	Name    string
	Spec    string
	LockKey string
	LockTTL time.Duration
	Run     JobFunc
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	locker *Locker
	logger *zap.Logger
}

// New returns a scheduler whose jobs run with ctx. redisClient may be nil,
// in which case jobs run without a lock.
func New(ctx context.Context, redisClient *redis.Client, logger *zap.Logger) *Scheduler {
	logger = logger.Named("cron")
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
	if redisClient != nil {
		s.locker = NewLocker(redisClient)
	}
	return s
}

func (s *Scheduler) Add(job Job) error {
	_, err := s.cron.AddFunc(job.Spec, func() { s.run(job) })
	return err
}

func (s *Scheduler) run(job Job) bool {
	lg := s.logger.With(zap.String("job", job.Name))
	ctx := logging.WithLogger(s.ctx, lg)

	if s.locker != nil && job.LockKey != "" {
		lock, err := s.locker.Acquire(ctx, job.LockKey, job.LockTTL)
		if err != nil {
			lg.Error("cron.lock_failed", zap.Error(err))
			return false
		}
		if lock == nil {
			lg.Debug("cron.lock_held_elsewhere")
			return false
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				lg.Warn("cron.unlock_failed", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		lg.Error("cron.job_failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		return true
	}
	lg.Debug("cron.job_done", zap.Duration("took", time.Since(start)))
	return true
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
