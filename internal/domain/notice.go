package domain

import (
	"fmt"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/errs"
)

// State 公告生命周期状态
type State string

const (
	StateDraft             State = "DRAFT"              // 草稿
	StateSubmitted         State = "SUBMITTED"          // 已提交
	StateModerationPending State = "MODERATION_PENDING" // 待审核
	StateApproved          State = "APPROVED"           // 已批准
	StateRejected          State = "REJECTED"           // 已驳回
	StateScheduled         State = "SCHEDULED"          // 已排期
	StateActive            State = "ACTIVE"             // 展示中
	StateExpired           State = "EXPIRED"            // 已过期
	StateArchived          State = "ARCHIVED"           // 已归档
	StateReinstated        State = "REINSTATED"         // 已恢复
)

// AllStates 状态机校验时使用的全量状态集合
func AllStates() []State {
	return []State{
		StateDraft, StateSubmitted, StateModerationPending,
		StateApproved, StateRejected, StateScheduled,
		StateActive, StateExpired, StateArchived, StateReinstated,
	}
}

// Event 生命周期事件
type Event string

const (
	EventSubmit    Event = "submit"
	EventUpdate    Event = "update"
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventSchedule  Event = "schedule"
	EventActivate  Event = "activate"
	EventExpire    Event = "expire"
	EventArchive   Event = "archive"
	EventReinstate Event = "reinstate"
)

// Role 调用方传入的已解析角色，本核心不做认证
type Role string

const (
	RoleUser      Role = "user"
	RoleEditor    Role = "editor"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Actor 每次生命周期/调度调用携带的操作者上下文
type Actor struct {
	UserID string
	Role   Role
}

// Priority 公告优先级，数值越小越紧急
type Priority int

const (
	PriorityEmergency Priority = iota // 紧急插播
	PriorityUrgent                    // 加急
	PriorityHigh                      // 高
	PriorityNormal                    // 普通
	PriorityLow                       // 低
)

func (p Priority) Validate() error {
	if p < PriorityEmergency || p > PriorityLow {
		return fmt.Errorf("%w: Priority = %d", errs.ErrInvalidParameter, p)
	}
	return nil
}

// NoticeContext 公告生命周期上下文，只能通过合法转换修改，终态保留不删除
type NoticeContext struct {
	ID             string
	CurrentState   State
	CreatedAt      time.Time
	VisibleFrom    *time.Time
	VisibleUntil   *time.Time
	Priority       Priority
	AuthorID       string
	LastModifiedAt time.Time
}

// StateTransition 状态转换审计记录。每次尝试都会追加一条，无论成败，追加后不再修改
type StateTransition struct {
	ID        uint64
	NoticeID  string
	From      State
	To        State
	Event     Event
	Timestamp time.Time
	ActorID   string
	ActorRole Role
	Metadata  map[string]string
	Valid     bool
	Reason    string
}
