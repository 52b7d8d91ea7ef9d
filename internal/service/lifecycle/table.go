package lifecycle

import (
	"fmt"
	"sort"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/errs"
	"github.com/hashicorp/go-multierror"
)

// transitionTable 两级查表：(当前状态, 事件) -> 目标状态。
// 表里没有的组合一律视为非法，不存在默认转移
type transitionTable map[domain.State]map[domain.Event]domain.State

func newTransitionTable() transitionTable {
	return transitionTable{
		domain.StateDraft: {
			domain.EventSubmit:  domain.StateSubmitted,
			domain.EventUpdate:  domain.StateDraft,
			domain.EventArchive: domain.StateArchived,
		},
		domain.StateSubmitted: {
			domain.EventApprove: domain.StateModerationPending,
			domain.EventReject:  domain.StateRejected,
			domain.EventUpdate:  domain.StateDraft,
		},
		domain.StateModerationPending: {
			domain.EventApprove: domain.StateApproved,
			domain.EventReject:  domain.StateRejected,
		},
		domain.StateApproved: {
			domain.EventSchedule: domain.StateScheduled,
			domain.EventActivate: domain.StateActive,
			domain.EventReject:   domain.StateRejected,
		},
		domain.StateScheduled: {
			domain.EventActivate: domain.StateActive,
			domain.EventReject:   domain.StateRejected,
		},
		domain.StateActive: {
			domain.EventExpire:  domain.StateExpired,
			domain.EventArchive: domain.StateArchived,
		},
		domain.StateExpired: {
			domain.EventArchive:   domain.StateArchived,
			domain.EventReinstate: domain.StateReinstated,
		},
		domain.StateArchived: {
			domain.EventReinstate: domain.StateReinstated,
		},
		domain.StateReinstated: {
			domain.EventApprove: domain.StateApproved,
			domain.EventArchive: domain.StateArchived,
		},
		domain.StateRejected: {
			domain.EventReinstate: domain.StateReinstated,
		},
	}
}

func (t transitionTable) next(state domain.State, event domain.Event) (domain.State, bool) {
	events, ok := t[state]
	if !ok {
		return "", false
	}
	to, ok := events[event]
	return to, ok
}

// events 当前状态下结构上合法的事件，排序保证结果稳定
func (t transitionTable) events(state domain.State) []domain.Event {
	out := make([]domain.Event, 0, len(t[state]))
	for e := range t[state] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// validate 启动时的结构自检：
// 除两个准终态外每个状态都要有出边，且所有状态都要能从 DRAFT 走到。
// 只报告缺陷，不做自动修复
func (t transitionTable) validate() error {
	var result *multierror.Error

	nearTerminal := map[domain.State]struct{}{
		domain.StateArchived: {},
		domain.StateRejected: {},
	}
	for _, s := range domain.AllStates() {
		if _, ok := nearTerminal[s]; ok {
			continue
		}
		if len(t[s]) == 0 {
			result = multierror.Append(result,
				fmt.Errorf("%w: 状态 %s 没有任何出边", errs.ErrInvalidMachine, s))
		}
	}

	reachable := map[domain.State]struct{}{domain.StateDraft: {}}
	queue := []domain.State{domain.StateDraft}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range t[cur] {
			if _, seen := reachable[to]; !seen {
				reachable[to] = struct{}{}
				queue = append(queue, to)
			}
		}
	}
	for _, s := range domain.AllStates() {
		if _, ok := reachable[s]; !ok {
			result = multierror.Append(result,
				fmt.Errorf("%w: 状态 %s 从 DRAFT 不可达", errs.ErrInvalidMachine, s))
		}
	}

	return result.ErrorOrNil()
}

// Graph 转换表的图描述，供诊断渲染使用
type Graph struct {
	Nodes []domain.State
	Edges []GraphEdge
}

// GraphEdge 一条带事件标签的有向边
type GraphEdge struct {
	From  domain.State
	To    domain.State
	Event domain.Event
}

func (t transitionTable) graph() Graph {
	g := Graph{Nodes: domain.AllStates()}
	for _, from := range g.Nodes {
		for _, event := range t.events(from) {
			g.Edges = append(g.Edges, GraphEdge{
				From:  from,
				To:    t[from][event],
				Event: event,
			})
		}
	}
	return g
}
