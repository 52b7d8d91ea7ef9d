package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/errs"
	"github.com/ecodeclub/ekit/syncx"
	"github.com/gotomicro/ego/core/elog"
	"github.com/sony/sonyflake"
)

// metadata 里携带新的可见开始时间时使用的键，RFC3339 格式
const MetadataVisibleFrom = "visibleFrom"

// Service 公告生命周期状态机。
// 它是一条公告能否进入下一工作流阶段的唯一裁决者，同时也是转换历史的记录系统。
// 状态只存在于进程内，重启即丢失；需要恢复时由持有持久存储的一方
// 在启动阶段用 InitNotice 带初始状态回放非终态公告
type Service interface {
	// InitNotice 登记一条公告，初始状态为 DRAFT
	InitNotice(id, authorID string, priority domain.Priority, visibleFrom, visibleUntil *time.Time, opts ...InitOption) (domain.NoticeContext, error)
	// Transition 尝试一次状态转换。无论成败都会追加一条审计记录，
	// 只有成功才会修改当前状态
	Transition(id string, event domain.Event, actor domain.Actor, metadata map[string]string) (domain.NoticeContext, error)
	CurrentState(id string) (domain.State, error)
	// CanPerform 重放查表和守卫但不提交
	CanPerform(id string, event domain.Event, actor domain.Actor) (bool, string, error)
	// PerformableEvents 当前状态下结构合法且守卫放行的事件全集
	PerformableEvents(id string, actor domain.Actor) ([]domain.Event, error)
	History(id string) ([]domain.StateTransition, error)
	ValidateMachine() error
	Graph() Graph
}

type InitOption func(*domain.NoticeContext)

// WithInitialState 重启回放时指定初始状态，正常业务不要使用
func WithInitialState(state domain.State) InitOption {
	return func(nc *domain.NoticeContext) {
		nc.CurrentState = state
	}
}

type service struct {
	table  transitionTable
	idGen  *sonyflake.Sonyflake
	logger *elog.Component

	// mu 保护 notices/history 两个map的结构，
	// 单条公告的 读-守卫-写-追加 原子性由 locks 里的公告级锁保证
	mu      sync.RWMutex
	notices map[string]*domain.NoticeContext
	history map[string][]domain.StateTransition
	locks   *syncx.Map[string, *sync.Mutex]
}

// NewService 构造时做一次转换表结构自检，表有缺陷直接拒绝启动
func NewService(idGen *sonyflake.Sonyflake) (Service, error) {
	table := newTransitionTable()
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &service{
		table:   table,
		idGen:   idGen,
		logger:  elog.DefaultLogger,
		notices: make(map[string]*domain.NoticeContext),
		history: make(map[string][]domain.StateTransition),
		locks:   &syncx.Map[string, *sync.Mutex]{},
	}, nil
}

func (s *service) InitNotice(id, authorID string, priority domain.Priority, visibleFrom, visibleUntil *time.Time, opts ...InitOption) (domain.NoticeContext, error) {
	if id == "" {
		return domain.NoticeContext{}, fmt.Errorf("%w: id 为空", errs.ErrInvalidParameter)
	}
	if err := priority.Validate(); err != nil {
		return domain.NoticeContext{}, err
	}

	now := time.Now()
	nc := &domain.NoticeContext{
		ID:             id,
		CurrentState:   domain.StateDraft,
		CreatedAt:      now,
		VisibleFrom:    visibleFrom,
		VisibleUntil:   visibleUntil,
		Priority:       priority,
		AuthorID:       authorID,
		LastModifiedAt: now,
	}
	for _, opt := range opts {
		opt(nc)
	}

	// 公告级锁先行：幂等返回读取的字段可能正被并发转换提交
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if exist, ok := s.notices[id]; ok {
		// 幂等：已经登记过就原样返回
		return *exist, nil
	}
	s.notices[id] = nc
	return *nc, nil
}

func (s *service) Transition(id string, event domain.Event, actor domain.Actor, metadata map[string]string) (domain.NoticeContext, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	nc, err := s.context(id)
	if err != nil {
		return domain.NoticeContext{}, err
	}

	now := time.Now()
	from := nc.CurrentState
	next, ok := s.table.next(from, event)
	if !ok {
		reason := fmt.Sprintf("状态 %s 不支持事件 %s", from, event)
		s.appendRecord(nc.ID, from, from, event, actor, metadata, now, false, reason)
		return *nc, fmt.Errorf("%w: %s", errs.ErrIllegalTransition, reason)
	}

	if reason, pass := evaluateGuards(nc, event, actor, now); !pass {
		s.appendRecord(nc.ID, from, next, event, actor, metadata, now, false, reason)
		return *nc, fmt.Errorf("%w: %s", errs.ErrGuardRejected, reason)
	}

	nc.CurrentState = next
	nc.LastModifiedAt = now
	if event == domain.EventSchedule {
		if raw, ok := metadata[MetadataVisibleFrom]; ok {
			if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
				nc.VisibleFrom = &t
			} else {
				s.logger.Warn("排期事件携带的可见开始时间无法解析",
					elog.String("noticeID", id), elog.String("visibleFrom", raw))
			}
		}
	}
	s.appendRecord(nc.ID, from, next, event, actor, metadata, now, true, "")

	s.logger.Info("公告状态转换成功",
		elog.String("noticeID", id),
		elog.String("from", string(from)),
		elog.String("to", string(next)),
		elog.String("event", string(event)))
	return *nc, nil
}

// appendRecord 追加审计记录。记录只追加不修改；
// ID 生成失败也不能丢记录，降级为0并记日志
func (s *service) appendRecord(noticeID string, from, to domain.State, event domain.Event, actor domain.Actor, metadata map[string]string, now time.Time, valid bool, reason string) {
	var recordID uint64
	if s.idGen != nil {
		id, err := s.idGen.NextID()
		if err != nil {
			s.logger.Error("审计记录ID生成失败", elog.FieldErr(err))
		} else {
			recordID = id
		}
	}

	record := domain.StateTransition{
		ID:        recordID,
		NoticeID:  noticeID,
		From:      from,
		To:        to,
		Event:     event,
		Timestamp: now,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Metadata:  metadata,
		Valid:     valid,
		Reason:    reason,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[noticeID] = append(s.history[noticeID], record)
}

func (s *service) CurrentState(id string) (domain.State, error) {
	nc, err := s.snapshot(id)
	if err != nil {
		return "", err
	}
	return nc.CurrentState, nil
}

func (s *service) CanPerform(id string, event domain.Event, actor domain.Actor) (bool, string, error) {
	nc, err := s.snapshot(id)
	if err != nil {
		return false, "", err
	}

	if _, ok := s.table.next(nc.CurrentState, event); !ok {
		return false, fmt.Sprintf("状态 %s 不支持事件 %s", nc.CurrentState, event), nil
	}
	if reason, pass := evaluateGuards(&nc, event, actor, time.Now()); !pass {
		return false, reason, nil
	}
	return true, "", nil
}

func (s *service) PerformableEvents(id string, actor domain.Actor) ([]domain.Event, error) {
	nc, err := s.snapshot(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	events := s.table.events(nc.CurrentState)
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if _, pass := evaluateGuards(&nc, e, actor, now); pass {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *service) History(id string) ([]domain.StateTransition, error) {
	if _, err := s.context(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[id]
	out := make([]domain.StateTransition, len(records))
	copy(out, records)
	return out, nil
}

func (s *service) ValidateMachine() error {
	return s.table.validate()
}

func (s *service) Graph() Graph {
	return s.table.graph()
}

func (s *service) context(id string) (*domain.NoticeContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nc, ok := s.notices[id]
	if !ok {
		return nil, fmt.Errorf("%w: id = %q", errs.ErrNoticeNotFound, id)
	}
	return nc, nil
}

// snapshot 在公告级锁内拷贝上下文。
// 转换提交只持有公告级锁，只读查询必须在同一把锁内取快照才不会读到写了一半的字段
func (s *service) snapshot(id string) (domain.NoticeContext, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	nc, err := s.context(id)
	if err != nil {
		return domain.NoticeContext{}, err
	}
	return *nc, nil
}

func (s *service) lockFor(id string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return lock
}
