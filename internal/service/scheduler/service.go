package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/errs"
	"gitee.com/flycash/bulletin-platform/internal/pkg/loopjob"
	"gitee.com/flycash/bulletin-platform/internal/pkg/ringbuffer"
	"gitee.com/flycash/bulletin-platform/internal/pkg/timewheel"
	"github.com/ecodeclub/ekit/queue"
	"github.com/ecodeclub/ekit/syncx"
	"github.com/gotomicro/ego/core/elog"
	ca "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

// Config 调度器参数，零值字段使用默认值
type Config struct {
	// 时间轮槽数和槽宽
	WheelSlots    int           `json:"wheelSlots"`
	WheelInterval time.Duration `json:"wheelInterval"`
	// 三个周期任务的周期：轮盘推进、全量扫描兜底、清理
	TickInterval    time.Duration `json:"tickInterval"`
	ScanInterval    time.Duration `json:"scanInterval"`
	CleanupInterval time.Duration `json:"cleanupInterval"`
	// 每个渠道展示缓冲的容量
	BufferCapacity int `json:"bufferCapacity"`
	// 可见窗口记录在结束后保留多久
	IntervalRetention time.Duration `json:"intervalRetention"`
	// 投递重试的指数退避参数
	RetryBaseInterval time.Duration `json:"retryBaseInterval"`
	RetryMaxInterval  time.Duration `json:"retryMaxInterval"`
	DefaultMaxRetries int32         `json:"defaultMaxRetries"`
}

func (c *Config) fillDefaults() {
	const (
		defaultWheelSlots     = 300
		defaultBufferCapacity = 50
		defaultMaxRetries     = 3
	)
	if c.WheelSlots <= 0 {
		c.WheelSlots = defaultWheelSlots
	}
	if c.WheelInterval <= 0 {
		c.WheelInterval = time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = defaultBufferCapacity
	}
	if c.IntervalRetention <= 0 {
		c.IntervalRetention = 24 * time.Hour
	}
	if c.RetryBaseInterval <= 0 {
		c.RetryBaseInterval = time.Second
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = time.Minute
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = defaultMaxRetries
	}
}

// AdviseFunc 激活/过期时回告生命周期状态机，失败只记日志不阻塞调度
type AdviseFunc func(noticeID string, event domain.Event)

// Stats 聚合计数，供外层展示和指标上报
type Stats struct {
	PendingCount         int
	ActiveCount          int
	IntervalCount        int
	BufferCount          int
	PendingDeliveryCount int
	WheelOccupancy       int
}

// Service 优先级调度器。持有已批准公告的时间激活、优先级排序、
// 渠道展示缓冲和投递重试记账。状态只存在于进程内，重启即丢失，
// 需要恢复时由持久层在启动阶段调用 Restore 回放
type Service interface {
	// ScheduleNotice 入待调度队列。窗口已经过期的单元照单全收但永远不会激活，
	// 属于调用方错误
	ScheduleNotice(n *domain.ScheduledNotice) error
	// PreemptWithEmergency 紧急插播：只接受最高紧急级，绕过队列立刻激活并插到缓冲头部
	PreemptWithEmergency(n *domain.ScheduledNotice) error
	// GetDisplayNotices 渠道缓冲里当前可见的公告，过期条目惰性过滤不主动剔除
	GetDisplayNotices(channel domain.Channel) []domain.ScheduledNotice
	// ReportDelivery 回报一次投递结果，失败按指数退避安排重试
	ReportDelivery(noticeID, targetID string, delivered bool) error
	// DeliveryStatus 一条公告下全部投递记录的快照
	DeliveryStatus(noticeID string) ([]domain.DeliveryCheckpoint, error)
	// AddBlackout 登记禁发时段，覆盖到的时刻不允许任何激活
	AddBlackout(start, end time.Time)
	// Restore 重启回放入口，等价于逐条 ScheduleNotice，只记日志不中断
	Restore(units []*domain.ScheduledNotice)
	Stats() Stats
	// Start 启动周期任务并阻塞到 ctx 取消，退出前保证任务都已停下
	Start(ctx context.Context)
}

type service struct {
	cfg    Config
	logger *elog.Component

	// mu 保护堆、轮盘登记、区间表和待激活集，它们共享同一份排序状态，
	// 插入、抢占、激活、移除必须互斥
	mu         sync.Mutex
	pending    *queue.PriorityQueue[*domain.ScheduledNotice]
	pendingIDs map[string]*domain.ScheduledNotice
	// 已激活（或已放弃）的ID。堆不支持按键删除，出堆时看到墓碑直接丢弃
	tombstones map[string]struct{}
	wheel      *timewheel.TimingWheel
	intervals  []domain.TimeInterval

	// 激活中的公告，条目TTL对齐可见窗口结束
	active *ca.Cache
	// 渠道缓冲相互独立，各自持锁
	buffers *syncx.Map[domain.Channel, *channelBuffer]

	cpMu        sync.Mutex
	checkpoints map[string]*noticeDeliveries

	advise    AdviseFunc
	collector *Collector
}

// channelBuffer 单渠道的展示缓冲
type channelBuffer struct {
	mu   sync.Mutex
	ring *ringbuffer.Ring[*domain.ScheduledNotice]
}

type Option func(*service)

// WithAdviseFunc 挂上生命周期回告
func WithAdviseFunc(fn AdviseFunc) Option {
	return func(s *service) {
		s.advise = fn
	}
}

// WithCollector 挂上指标上报
func WithCollector(c *Collector) Option {
	return func(s *service) {
		s.collector = c
	}
}

func NewService(cfg Config, opts ...Option) Service {
	cfg.fillDefaults()
	s := &service{
		cfg:    cfg,
		logger: elog.DefaultLogger,
		// 优先级小的在前，同优先级按可见开始时间早的在前
		pending: queue.NewPriorityQueue[*domain.ScheduledNotice](0, func(src, dst *domain.ScheduledNotice) int {
			switch {
			case src.Priority != dst.Priority:
				return int(src.Priority) - int(dst.Priority)
			case src.VisibleFrom.Before(dst.VisibleFrom):
				return -1
			case src.VisibleFrom.After(dst.VisibleFrom):
				return 1
			default:
				return 0
			}
		}),
		pendingIDs:  make(map[string]*domain.ScheduledNotice),
		tombstones:  make(map[string]struct{}),
		wheel:       timewheel.New(cfg.WheelSlots, cfg.WheelInterval),
		active:      ca.New(ca.NoExpiration, cfg.CleanupInterval),
		buffers:     &syncx.Map[domain.Channel, *channelBuffer]{},
		checkpoints: make(map[string]*noticeDeliveries),
	}
	for _, opt := range opts {
		opt(s)
	}
	// 活跃集条目到期（TTL或清理删除）时回告状态机做过期转换
	if s.advise != nil {
		s.active.OnEvicted(func(noticeID string, _ any) {
			s.advise(noticeID, domain.EventExpire)
		})
	}
	return s
}

func (s *service) ScheduleNotice(n *domain.ScheduledNotice) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.MaxRetries <= 0 {
		n.MaxRetries = s.cfg.DefaultMaxRetries
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.pendingIDs[n.NoticeID]; dup {
		return fmt.Errorf("%w: noticeID = %q", errs.ErrDuplicateSchedule, n.NoticeID)
	}
	if _, dup := s.active.Get(n.NoticeID); dup {
		return fmt.Errorf("%w: noticeID = %q 已在展示中", errs.ErrDuplicateSchedule, n.NoticeID)
	}

	// 整个可见窗口都在禁发时段里的公告永远不可能激活，直接拒绝并带上冲突区间
	if b := s.blackoutCovering(n.VisibleFrom, n.VisibleUntil); b != nil {
		return fmt.Errorf("%w: 可见窗口 [%s, %s) 与禁发时段 [%s, %s) 冲突",
			errs.ErrBlackoutConflict,
			n.VisibleFrom.Format(time.RFC3339), n.VisibleUntil.Format(time.RFC3339),
			b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339))
	}

	if !n.VisibleUntil.After(now) {
		// 已过期的窗口照收不误但永远不会激活，这是调用方错误，这里只留痕
		s.logger.Warn("排期的可见窗口已经过期，该公告不会被激活",
			elog.String("noticeID", n.NoticeID),
			elog.Any("visibleUntil", n.VisibleUntil))
	}

	if err := s.pending.Enqueue(n); err != nil {
		return fmt.Errorf("入队失败: %w", err)
	}
	delete(s.tombstones, n.NoticeID)
	s.pendingIDs[n.NoticeID] = n
	s.wheel.Add(n.NoticeID, n.VisibleFrom)
	s.intervals = append(s.intervals, domain.TimeInterval{
		Start:    n.VisibleFrom,
		End:      n.VisibleUntil,
		NoticeID: n.NoticeID,
	})

	s.logger.Info("公告已入调度队列",
		elog.String("noticeID", n.NoticeID),
		elog.Int("priority", int(n.Priority)),
		elog.Any("visibleFrom", n.VisibleFrom))
	return nil
}

func (s *service) PreemptWithEmergency(n *domain.ScheduledNotice) error {
	if err := n.Validate(); err != nil {
		return err
	}
	// 前置条件：只有最高紧急级允许抢占，其他优先级是调用方用错了接口
	if n.Priority != domain.PriorityEmergency {
		return fmt.Errorf("%w: priority = %d", errs.ErrNotEmergencyPriority, n.Priority)
	}
	if n.MaxRetries <= 0 {
		n.MaxRetries = s.cfg.DefaultMaxRetries
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.blackoutAt(now); b != nil {
		return fmt.Errorf("%w: 禁发时段 [%s, %s)", errs.ErrBlackoutConflict,
			b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339))
	}

	// 同一公告已经排期过的，抢占接管激活，堆里的副本立墓碑作废，
	// 激活后的待调度集里不允许再有同一公告的存活条目
	delete(s.pendingIDs, n.NoticeID)
	s.tombstones[n.NoticeID] = struct{}{}

	s.intervals = append(s.intervals, domain.TimeInterval{
		Start:    n.VisibleFrom,
		End:      n.VisibleUntil,
		NoticeID: n.NoticeID,
	})
	s.activateLocked(n, now, true)

	s.logger.Info("紧急公告抢占激活", elog.String("noticeID", n.NoticeID))
	return nil
}

func (s *service) GetDisplayNotices(channel domain.Channel) []domain.ScheduledNotice {
	buf, ok := s.buffers.Load(channel)
	if !ok {
		return nil
	}

	now := time.Now()
	buf.mu.Lock()
	items := buf.ring.Items()
	buf.mu.Unlock()

	out := make([]domain.ScheduledNotice, 0, len(items))
	for _, n := range items {
		// 惰性过滤：过期条目留在缓冲里等清理任务压缩
		if n.VisibleAt(now) {
			out = append(out, *n)
		}
	}
	return out
}

// AddBlackout 禁发时段没有公告归属，NoticeID 留空
func (s *service) AddBlackout(start, end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals = append(s.intervals, domain.TimeInterval{
		Start:      start,
		End:        end,
		IsBlackout: true,
	})
}

func (s *service) Restore(units []*domain.ScheduledNotice) {
	for _, n := range units {
		if err := s.ScheduleNotice(n); err != nil {
			s.logger.Warn("重启回放失败，跳过该公告",
				elog.String("noticeID", n.NoticeID), elog.FieldErr(err))
		}
	}
}

func (s *service) Stats() Stats {
	s.mu.Lock()
	pendingCount := len(s.pendingIDs)
	intervalCount := len(s.intervals)
	wheelOccupancy := s.wheel.Occupancy()
	s.mu.Unlock()

	bufferCount := 0
	s.buffers.Range(func(_ domain.Channel, buf *channelBuffer) bool {
		buf.mu.Lock()
		bufferCount += buf.ring.Len()
		buf.mu.Unlock()
		return true
	})

	return Stats{
		PendingCount:         pendingCount,
		ActiveCount:          s.active.ItemCount(),
		IntervalCount:        intervalCount,
		BufferCount:          bufferCount,
		PendingDeliveryCount: s.pendingDeliveryCount(),
		WheelOccupancy:       wheelOccupancy,
	}
}

func (s *service) Start(ctx context.Context) {
	loops := []*loopjob.Loop{
		loopjob.NewLoop("scheduler-tick", s.cfg.TickInterval, s.tick),
		loopjob.NewLoop("scheduler-scan", s.cfg.ScanInterval, s.scan),
		loopjob.NewLoop("scheduler-cleanup", s.cfg.CleanupInterval, s.cleanup),
	}

	var eg errgroup.Group
	for _, l := range loops {
		eg.Go(func() error {
			l.Run(ctx)
			return nil
		})
	}
	_ = eg.Wait()
}

// blackoutAt 命中给定时刻的禁发时段，caller 持有 s.mu
func (s *service) blackoutAt(now time.Time) *domain.TimeInterval {
	instant := domain.TimeInterval{Start: now, End: now.Add(time.Nanosecond)}
	for i := range s.intervals {
		if s.intervals[i].IsBlackout && s.intervals[i].Overlaps(instant) {
			return &s.intervals[i]
		}
	}
	return nil
}

// blackoutCovering 完整覆盖 [from, until) 的禁发时段，caller 持有 s.mu
func (s *service) blackoutCovering(from, until time.Time) *domain.TimeInterval {
	for i := range s.intervals {
		b := &s.intervals[i]
		if b.IsBlackout && !b.Start.After(from) && !b.End.Before(until) {
			return b
		}
	}
	return nil
}
