package loopjob

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gotomicro/ego/core/elog"
)

// 在没有任务调度平台的情况下，使用这个来调度进程内的周期任务

// Loop 进程内周期任务。同一个任务不会重入：上一轮还没跑完时，本轮直接跳过
type Loop struct {
	name     string
	interval time.Duration
	logger   *elog.Component
	biz      func(ctx context.Context) error
	running  atomic.Bool
}

func NewLoop(
	name string,
	interval time.Duration,
	// 你要执行的业务。注意当 ctx 被取消的时候，就会退出整个循环
	biz func(ctx context.Context) error,
) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		logger:   elog.DefaultLogger.With(elog.String("loop", name)),
		biz:      biz,
	}
}

// Run 阻塞执行，直到 ctx 被取消才返回。调用方负责 await，保证退出前任务已经停下
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("任务被取消，退出任务循环")
			return
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	// 上一轮还在执行就跳过，不允许同一任务重入
	if !l.running.CompareAndSwap(false, true) {
		l.logger.Warn("上一轮任务尚未结束，跳过本轮")
		return
	}
	defer l.running.Store(false)

	if err := l.biz(ctx); err != nil {
		l.logger.Error("业务执行失败", elog.FieldErr(err))
	}
}
