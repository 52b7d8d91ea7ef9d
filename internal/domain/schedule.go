package domain

import (
	"fmt"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/errs"
)

// Channel 展示渠道。渠道标识由调用方约定，这里只预置常用的几个
type Channel string

const (
	ChannelWeb         Channel = "WEB"
	ChannelMobile      Channel = "MOBILE"
	ChannelEmailDigest Channel = "EMAIL_DIGEST"
)

// ScheduledNotice 已批准、受众已解析的可调度单元。
// 受众在批准时刻解析一次，之后用户属性变化不会回溯修改
type ScheduledNotice struct {
	NoticeID       string
	Priority       Priority
	VisibleFrom    time.Time
	VisibleUntil   time.Time
	TargetAudience []string
	Channels       []Channel
	CreatedAt      time.Time
	RetryCount     int32
	MaxRetries     int32
}

func (s *ScheduledNotice) Validate() error {
	if s.NoticeID == "" {
		return fmt.Errorf("%w: NoticeID = %q", errs.ErrInvalidParameter, s.NoticeID)
	}

	if err := s.Priority.Validate(); err != nil {
		return err
	}

	if len(s.Channels) == 0 {
		return fmt.Errorf("%w: Channels = %v", errs.ErrInvalidParameter, s.Channels)
	}

	if !s.VisibleUntil.After(s.VisibleFrom) {
		return fmt.Errorf("%w: 可见窗口 [%s, %s) 不合法",
			errs.ErrInvalidParameter, s.VisibleFrom, s.VisibleUntil)
	}

	return nil
}

// VisibleAt 可见窗口是否覆盖给定时刻
func (s *ScheduledNotice) VisibleAt(now time.Time) bool {
	return !now.Before(s.VisibleFrom) && now.Before(s.VisibleUntil)
}

// DeliveryStatus 投递状态
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"   // 待投递
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED" // 已投递
	DeliveryStatusFailed    DeliveryStatus = "FAILED"    // 投递失败
	DeliveryStatusExpired   DeliveryStatus = "EXPIRED"   // 窗口结束仍未投递
)

// DeliveryCheckpoint 每个 (接收者, 公告) 一条投递记录。
// Attempts 不会超过所属公告的 MaxRetries，达到上限后永久停留在 FAILED
type DeliveryCheckpoint struct {
	TargetID      string
	NoticeID      string
	Status        DeliveryStatus
	LastAttemptAt time.Time
	Attempts      int32
	NextRetryAt   *time.Time
}

// TimeInterval 可见窗口或禁发时段
type TimeInterval struct {
	Start      time.Time
	End        time.Time
	NoticeID   string
	IsBlackout bool
}

// Overlaps 两个区间相交当且仅当 start1 < end2 且 start2 < end1
func (i TimeInterval) Overlaps(other TimeInterval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}
