package errs

import (
	"errors"
)

// 定义统一的错误类型
var (
	ErrInvalidParameter = errors.New("参数错误")

	ErrNoticeNotFound    = errors.New("公告记录不存在")
	ErrIllegalTransition = errors.New("当前状态不允许该操作")
	ErrGuardRejected     = errors.New("操作被守卫条件拒绝")
	ErrInvalidMachine    = errors.New("状态机结构校验失败")

	ErrNotEmergencyPriority = errors.New("非紧急优先级不允许抢占")
	ErrBlackoutConflict     = errors.New("激活时间落在禁发时段内")
	ErrDuplicateSchedule    = errors.New("公告已经在待调度队列中")
	ErrCheckpointNotFound   = errors.New("投递记录不存在")
)
