package scheduler

import (
	"context"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/pkg/ringbuffer"
	"github.com/gotomicro/ego/core/elog"
)

// tick 短周期推进时间轮，把到点的槽位条目拉出来激活。
// 槽位只是近似排期，到期与否以单元自带的窗口为准
func (s *service) tick(_ context.Context) error {
	now := time.Now()

	s.mu.Lock()
	for _, entry := range s.wheel.Advance(now) {
		n, ok := s.pendingIDs[entry.Key]
		if !ok {
			// 已经被激活或清理过了
			continue
		}
		s.tryActivateLocked(n, now)
	}
	s.mu.Unlock()

	s.observe()
	return nil
}

// scan 低频全量扫描兜底：超出轮盘跨度或者槽位被漏掉的公告由这里接住。
// 顺带把到期的投递重试置为可拉取
func (s *service) scan(_ context.Context) error {
	now := time.Now()

	s.mu.Lock()
	// 堆里按 (优先级, 可见开始时间) 出队。到期的按出队顺序激活，
	// 没到期的暂存后重新入队，墓碑条目就地丢弃，保证同一公告激活后不再有存活副本
	var defer2 []*domain.ScheduledNotice
	for s.pending.Len() > 0 {
		n, err := s.pending.Dequeue()
		if err != nil {
			// 无界堆出队失败只有队空一种情况
			break
		}
		if _, dead := s.tombstones[n.NoticeID]; dead {
			delete(s.tombstones, n.NoticeID)
			continue
		}
		if n.VisibleFrom.After(now) {
			defer2 = append(defer2, n)
			continue
		}
		if s.tryActivateLocked(n, now) {
			// 已经从待激活集中移除，墓碑在这里顺手清掉
			delete(s.tombstones, n.NoticeID)
			continue
		}
		defer2 = append(defer2, n)
	}
	for _, n := range defer2 {
		if err := s.pending.Enqueue(n); err != nil {
			s.logger.Error("扫描回填入队失败",
				elog.String("noticeID", n.NoticeID), elog.FieldErr(err))
		}
	}
	s.mu.Unlock()

	s.sweepDueRetries(now)
	s.observe()
	return nil
}

// tryActivateLocked 激活一条待调度公告，caller 持有 s.mu。
// 返回 true 表示该公告已离开待激活集（激活成功、窗口已过被放弃或是旧副本被作废）
func (s *service) tryActivateLocked(n *domain.ScheduledNotice, now time.Time) bool {
	// 同一ID放弃后重新排期时，堆里可能还留着旧副本，
	// 只认登记在册的那一份，旧副本直接作废
	if cur, ok := s.pendingIDs[n.NoticeID]; !ok || cur != n {
		return true
	}
	if now.Before(n.VisibleFrom) {
		return false
	}
	if !now.Before(n.VisibleUntil) {
		// 窗口已经整个错过了，放弃激活
		delete(s.pendingIDs, n.NoticeID)
		s.tombstones[n.NoticeID] = struct{}{}
		s.logger.Warn("可见窗口已过，放弃激活",
			elog.String("noticeID", n.NoticeID))
		return true
	}
	if b := s.blackoutAt(now); b != nil {
		// 禁发时段内一律不激活，留在待激活集里等下一轮
		s.wheel.Add(n.NoticeID, b.End)
		return false
	}

	delete(s.pendingIDs, n.NoticeID)
	s.tombstones[n.NoticeID] = struct{}{}
	s.activateLocked(n, now, false)
	return true
}

// activateLocked 执行激活动作：登记活跃集、建投递记录、填渠道缓冲、回告状态机。
// caller 持有 s.mu；emergency 为 true 时插到缓冲头部
func (s *service) activateLocked(n *domain.ScheduledNotice, now time.Time, emergency bool) {
	// TTL对齐窗口结束；负的TTL会被缓存当成永不过期，这里收敛到立即过期
	ttl := n.VisibleUntil.Sub(now)
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	s.active.Set(n.NoticeID, n, ttl)
	s.createCheckpoints(n, now)

	for _, channel := range n.Channels {
		buf := s.bufferOf(channel)
		buf.mu.Lock()
		if emergency {
			buf.ring.PushFront(n)
		} else {
			buf.ring.PushBack(n)
		}
		buf.mu.Unlock()
	}

	if s.advise != nil {
		s.advise(n.NoticeID, domain.EventActivate)
	}
	s.logger.Info("公告已激活",
		elog.String("noticeID", n.NoticeID),
		elog.Int("targets", len(n.TargetAudience)))
}

func (s *service) bufferOf(channel domain.Channel) *channelBuffer {
	buf, _ := s.buffers.LoadOrStore(channel, &channelBuffer{
		ring: ringbuffer.New[*domain.ScheduledNotice](s.cfg.BufferCapacity),
	})
	return buf
}

// cleanup 低频清理：活跃集里窗口已过的出清、窗口记录按保留期裁剪、
// 渠道缓冲压缩、悬空投递记录置为过期
func (s *service) cleanup(_ context.Context) error {
	now := time.Now()

	s.mu.Lock()
	// 窗口早已结束却还没激活的，从待激活集里出清
	for id, n := range s.pendingIDs {
		if !now.Before(n.VisibleUntil) {
			delete(s.pendingIDs, id)
			s.tombstones[id] = struct{}{}
			if s.advise != nil {
				s.advise(id, domain.EventExpire)
			}
		}
	}

	cutoff := now.Add(-s.cfg.IntervalRetention)
	kept := s.intervals[:0]
	for _, iv := range s.intervals {
		if iv.End.After(cutoff) {
			kept = append(kept, iv)
		}
	}
	s.intervals = kept
	s.mu.Unlock()

	// TTL到点的活跃条目在这里统一出清，触发 OnEvicted 回告过期
	s.active.DeleteExpired()

	s.buffers.Range(func(_ domain.Channel, buf *channelBuffer) bool {
		buf.mu.Lock()
		buf.ring.Compact(func(n *domain.ScheduledNotice) bool {
			return now.Before(n.VisibleUntil)
		})
		buf.mu.Unlock()
		return true
	})

	s.expireStaleCheckpoints(now)
	s.observe()
	return nil
}

// observe 周期任务收尾时上报一次聚合计数，不持有 s.mu 时调用
func (s *service) observe() {
	if s.collector == nil {
		return
	}
	s.collector.Observe(s.Stats())
}
