package main

import (
	"context"
	"os/signal"
	"syscall"

	"gitee.com/flycash/bulletin-platform/cmd/bulletin/ioc"
	"github.com/gotomicro/ego/core/elog"
)

func main() {
	app, err := ioc.InitApp()
	if err != nil {
		elog.Panic("装配核心服务失败", elog.FieldErr(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	elog.DefaultLogger.Info("bulletin-platform 核心已启动")
	// 周期任务启动后阻塞到收到退出信号，Start 返回即全部停妥
	app.Scheduler.Start(ctx)
	elog.DefaultLogger.Info("bulletin-platform 核心已退出")
}
