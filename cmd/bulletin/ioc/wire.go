package ioc

import (
	"errors"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/errs"
	"gitee.com/flycash/bulletin-platform/internal/pkg/idgen"
	"gitee.com/flycash/bulletin-platform/internal/service/audience"
	"gitee.com/flycash/bulletin-platform/internal/service/lifecycle"
	"gitee.com/flycash/bulletin-platform/internal/service/scheduler"
	"github.com/gotomicro/ego/core/elog"
)

// App 核心三个服务的装配结果。外层协作方（API、实时推送）拿到它之后
// 以函数调用的方式使用，核心不拥有任何网络面
type App struct {
	Lifecycle lifecycle.Service
	Audience  audience.Service
	Scheduler scheduler.Service
}

// 调度器回告状态机时使用的系统操作者
var systemActor = domain.Actor{UserID: "system", Role: domain.RoleAdmin}

func InitApp() (*App, error) {
	logger := elog.DefaultLogger

	lifecycleSvc, err := lifecycle.NewService(idgen.New())
	if err != nil {
		return nil, err
	}

	audienceSvc := audience.NewService(audience.SeenConfig{
		ExpectedInsertions: 1_000_000,
		FalsePositiveRate:  0.01,
	})

	schedulerSvc := scheduler.NewService(
		scheduler.Config{
			TickInterval:    time.Second,
			ScanInterval:    30 * time.Second,
			CleanupInterval: 5 * time.Minute,
		},
		scheduler.WithCollector(scheduler.NewCollector()),
		scheduler.WithAdviseFunc(func(noticeID string, event domain.Event) {
			_, terr := lifecycleSvc.Transition(noticeID, event, systemActor, nil)
			if terr != nil && !errors.Is(terr, errs.ErrNoticeNotFound) {
				logger.Warn("调度器回告状态机失败",
					elog.String("noticeID", noticeID),
					elog.String("event", string(event)),
					elog.FieldErr(terr))
			}
		}),
	)

	return &App{
		Lifecycle: lifecycleSvc,
		Audience:  audienceSvc,
		Scheduler: schedulerSvc,
	}, nil
}
