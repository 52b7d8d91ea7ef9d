package test

import (
	"context"
	"testing"
	"time"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"gitee.com/flycash/bulletin-platform/internal/pkg/idgen"
	"gitee.com/flycash/bulletin-platform/internal/service/audience"
	"gitee.com/flycash/bulletin-platform/internal/service/lifecycle"
	"gitee.com/flycash/bulletin-platform/internal/service/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// 核心链路：状态机驱动审批 -> 定向索引解析受众 -> 调度器激活展示。
// 这条链路就是三个子系统耦合的方式：审批转换触发受众解析，
// 解析结果进调度器，激活又反过来是另一次状态转换

func TestCoreFlow_ApprovalToDisplay(t *testing.T) {
	t.Parallel()

	editor := domain.Actor{UserID: "e1", Role: domain.RoleEditor}
	moderator := domain.Actor{UserID: "m1", Role: domain.RoleModerator}
	system := domain.Actor{UserID: "system", Role: domain.RoleAdmin}

	lifecycleSvc, err := lifecycle.NewService(idgen.New())
	require.NoError(t, err)

	audienceSvc := audience.NewService(audience.SeenConfig{
		ExpectedInsertions: 1000,
		FalsePositiveRate:  0.01,
	})

	schedulerSvc := scheduler.NewService(scheduler.Config{
		BufferCapacity: 10,
	}, scheduler.WithAdviseFunc(func(noticeID string, event domain.Event) {
		_, _ = lifecycleSvc.Transition(noticeID, event, system, nil)
	}))

	// 注册两个部门的用户
	audienceSvc.RegisterUser(domain.UserAttributes{
		UserID: "engUser", Role: "developer", Department: "Eng", Location: "Beijing",
	})
	audienceSvc.RegisterUser(domain.UserAttributes{
		UserID: "salesUser", Role: "sales", Department: "Sales", Location: "Beijing",
	})

	// 建公告并驱动 DRAFT -> SUBMITTED -> MODERATION_PENDING -> APPROVED
	now := time.Now()
	from := now.Add(-time.Minute)
	until := now.Add(time.Hour)
	_, err = lifecycleSvc.InitNotice("notice-1", editor.UserID, domain.PriorityNormal, &from, &until)
	require.NoError(t, err)

	_, err = lifecycleSvc.Transition("notice-1", domain.EventSubmit, editor, nil)
	require.NoError(t, err)
	_, err = lifecycleSvc.Transition("notice-1", domain.EventApprove, moderator, nil)
	require.NoError(t, err)
	_, err = lifecycleSvc.Transition("notice-1", domain.EventApprove, moderator, nil)
	require.NoError(t, err)

	state, err := lifecycleSvc.CurrentState("notice-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateApproved, state)

	// 批准时刻解析受众：只有 Eng 部门命中
	targets := audienceSvc.FindEligibleUsers(domain.AudienceRule{Departments: []string{"Eng"}})
	require.Equal(t, []string{"engUser"}, targets)

	// 之后再注册的 Eng 用户不会回溯进入已解析的受众
	audienceSvc.RegisterUser(domain.UserAttributes{
		UserID: "lateEngUser", Department: "Eng",
	})

	_, err = lifecycleSvc.Transition("notice-1", domain.EventSchedule, editor, nil)
	require.NoError(t, err)

	require.NoError(t, schedulerSvc.ScheduleNotice(&domain.ScheduledNotice{
		NoticeID:       "notice-1",
		Priority:       domain.PriorityNormal,
		VisibleFrom:    from,
		VisibleUntil:   until,
		TargetAudience: targets,
		Channels:       []domain.Channel{domain.ChannelWeb},
	}))

	// 起调度循环，等激活进入展示缓冲
	ctx, cancel := context.WithCancel(t.Context())
	var eg errgroup.Group
	eg.Go(func() error {
		schedulerSvc.Start(ctx)
		return nil
	})

	require.Eventually(t, func() bool {
		return len(schedulerSvc.GetDisplayNotices(domain.ChannelWeb)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	display := schedulerSvc.GetDisplayNotices(domain.ChannelWeb)
	require.Len(t, display, 1)
	assert.Equal(t, []string{"engUser"}, display[0].TargetAudience)

	// 激活回告把状态机推进到 ACTIVE
	assert.Eventually(t, func() bool {
		state, serr := lifecycleSvc.CurrentState("notice-1")
		return serr == nil && state == domain.StateActive
	}, 5*time.Second, 20*time.Millisecond)

	// 投递记录与去重：消费方回报后标记已看
	require.NoError(t, schedulerSvc.ReportDelivery("notice-1", "engUser", true))
	audienceSvc.MarkNoticeSeen("engUser", "notice-1")
	assert.True(t, audienceSvc.HasSeenNotice("engUser", "notice-1"))
	assert.False(t, audienceSvc.HasSeenNotice("salesUser", "notice-1"))

	cancel()
	require.NoError(t, eg.Wait())
}
