package scheduler

import (
	"fmt"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/errs"
	"github.com/ecodeclub/ekit/retry"
	"github.com/gotomicro/ego/core/elog"
)

// noticeDeliveries 一条公告名下的全部投递记录
type noticeDeliveries struct {
	visibleUntil time.Time
	targets      map[string]*checkpoint
}

// checkpoint 每个 (接收者, 公告) 一条。退避策略各自独立持有，
// 互不干扰地按失败次数推进
type checkpoint struct {
	domain.DeliveryCheckpoint
	maxRetries int32
	backoff    retry.Strategy
}

// createCheckpoints 激活时为解析出的每个接收者建一条 PENDING 投递记录，
// caller 持有 s.mu
func (s *service) createCheckpoints(n *domain.ScheduledNotice, now time.Time) {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	nd, ok := s.checkpoints[n.NoticeID]
	if !ok {
		nd = &noticeDeliveries{
			visibleUntil: n.VisibleUntil,
			targets:      make(map[string]*checkpoint, len(n.TargetAudience)),
		}
		s.checkpoints[n.NoticeID] = nd
	}
	for _, targetID := range n.TargetAudience {
		if _, exists := nd.targets[targetID]; exists {
			continue
		}
		strategy, err := retry.NewExponentialBackoffRetryStrategy(
			s.cfg.RetryBaseInterval, s.cfg.RetryMaxInterval, n.MaxRetries)
		if err != nil {
			s.logger.Error("构造退避策略失败", elog.FieldErr(err))
			continue
		}
		nd.targets[targetID] = &checkpoint{
			DeliveryCheckpoint: domain.DeliveryCheckpoint{
				TargetID: targetID,
				NoticeID: n.NoticeID,
				Status:   domain.DeliveryStatusPending,
			},
			maxRetries: n.MaxRetries,
			backoff:    strategy,
		}
	}
}

func (s *service) ReportDelivery(noticeID, targetID string, delivered bool) error {
	now := time.Now()

	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	nd, ok := s.checkpoints[noticeID]
	if !ok {
		return fmt.Errorf("%w: noticeID = %q", errs.ErrCheckpointNotFound, noticeID)
	}
	cp, ok := nd.targets[targetID]
	if !ok {
		return fmt.Errorf("%w: noticeID = %q, targetID = %q", errs.ErrCheckpointNotFound, noticeID, targetID)
	}

	switch cp.Status {
	case domain.DeliveryStatusDelivered, domain.DeliveryStatusFailed, domain.DeliveryStatusExpired:
		// 终态不再变化，重复回报按幂等处理
		return nil
	default:
	}

	cp.LastAttemptAt = now
	if delivered {
		cp.Status = domain.DeliveryStatusDelivered
		cp.NextRetryAt = nil
		return nil
	}

	cp.Attempts++
	if cp.Attempts >= cp.maxRetries {
		// 重试耗尽是终态，只通过状态和统计可见，不向调度方抛错
		cp.Status = domain.DeliveryStatusFailed
		cp.NextRetryAt = nil
		s.logger.Warn("投递重试耗尽",
			elog.String("noticeID", noticeID),
			elog.String("targetID", targetID),
			elog.Int("attempts", int(cp.Attempts)))
		return nil
	}

	next, ok := cp.backoff.Next()
	if !ok {
		cp.Status = domain.DeliveryStatusFailed
		cp.NextRetryAt = nil
		return nil
	}
	retryAt := now.Add(next)
	cp.NextRetryAt = &retryAt
	return nil
}

func (s *service) DeliveryStatus(noticeID string) ([]domain.DeliveryCheckpoint, error) {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	nd, ok := s.checkpoints[noticeID]
	if !ok {
		return nil, fmt.Errorf("%w: noticeID = %q", errs.ErrCheckpointNotFound, noticeID)
	}
	out := make([]domain.DeliveryCheckpoint, 0, len(nd.targets))
	for _, cp := range nd.targets {
		out = append(out, cp.DeliveryCheckpoint)
	}
	return out, nil
}

// sweepDueRetries 把退避时间已到的记录恢复为可拉取状态，
// 消费方看到 NextRetryAt 清空即可重新尝试投递
func (s *service) sweepDueRetries(now time.Time) {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	due := 0
	for _, nd := range s.checkpoints {
		for _, cp := range nd.targets {
			if cp.Status == domain.DeliveryStatusPending &&
				cp.NextRetryAt != nil && !cp.NextRetryAt.After(now) {
				cp.NextRetryAt = nil
				due++
			}
		}
	}
	if due > 0 {
		s.logger.Info("投递重试到期", elog.Int("count", due))
	}
}

// expireStaleCheckpoints 可见窗口结束后仍未投递成功的记录置为 EXPIRED，
// 窗口结束超过保留期的整组删除
func (s *service) expireStaleCheckpoints(now time.Time) {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	for noticeID, nd := range s.checkpoints {
		if now.Before(nd.visibleUntil) {
			continue
		}
		for _, cp := range nd.targets {
			if cp.Status == domain.DeliveryStatusPending {
				cp.Status = domain.DeliveryStatusExpired
				cp.NextRetryAt = nil
			}
		}
		if now.Sub(nd.visibleUntil) > s.cfg.IntervalRetention {
			delete(s.checkpoints, noticeID)
		}
	}
}

func (s *service) pendingDeliveryCount() int {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	count := 0
	for _, nd := range s.checkpoints {
		for _, cp := range nd.targets {
			if cp.Status == domain.DeliveryStatusPending {
				count++
			}
		}
	}
	return count
}
