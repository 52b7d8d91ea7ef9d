package lifecycle

import (
	"fmt"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
)

// 归档超过这个时长之后再恢复，只有管理员可以操作
const reinstateAdminWindow = 30 * 24 * time.Hour

// evaluateGuards 只在查表确认事件结构合法之后调用。
// 返回的 reason 用于审计记录和给调用方的拒绝原因，要能区分是哪条守卫没过
func evaluateGuards(nc *domain.NoticeContext, event domain.Event, actor domain.Actor, now time.Time) (string, bool) {
	switch event {
	case domain.EventSubmit:
		if actor.Role == domain.RoleUser {
			return "普通用户不能提交公告", false
		}
	case domain.EventApprove, domain.EventReject:
		if actor.Role != domain.RoleModerator && actor.Role != domain.RoleAdmin {
			return fmt.Sprintf("%s 需要审核员或管理员角色，当前角色 %s", event, actor.Role), false
		}
	case domain.EventReinstate:
		if actor.Role != domain.RoleModerator && actor.Role != domain.RoleAdmin {
			return fmt.Sprintf("恢复操作需要审核员或管理员角色，当前角色 %s", actor.Role), false
		}
		// 归档超过30天的恢复收紧到仅管理员，审核员不够
		if nc.CurrentState == domain.StateArchived &&
			now.Sub(nc.LastModifiedAt) > reinstateAdminWindow &&
			actor.Role != domain.RoleAdmin {
			return "归档超过30天，恢复仅限管理员操作", false
		}
	case domain.EventActivate:
		if nc.VisibleFrom != nil && now.Before(*nc.VisibleFrom) {
			return fmt.Sprintf("尚未到可见开始时间 %s", nc.VisibleFrom.Format(time.RFC3339)), false
		}
	case domain.EventExpire:
		if nc.VisibleUntil != nil && now.Before(*nc.VisibleUntil) {
			return fmt.Sprintf("尚未到可见结束时间 %s", nc.VisibleUntil.Format(time.RFC3339)), false
		}
	}
	return "", true
}
