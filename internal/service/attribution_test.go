package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"invite-giveaway-system/internal/config"
	"invite-giveaway-system/internal/platform"
)

type attributionFixture struct {
	svc          *AttributionService
	inviteRepo   *mockInviteCodeRepo
	ledgerRepo   *mockLedgerRepo
	relationRepo *mockRelationshipRepo
	lister       *mockInviteLister
}

func newAttributionFixture() *attributionFixture {
	inviteRepo := newMockInviteCodeRepo()
	ledgerRepo := newMockLedgerRepo()
	relationRepo := newMockRelationshipRepo()
	lister := &mockInviteLister{}
	cfg := &config.InvitesConfig{FakeAccountAgeDays: 7, DedupWindowMinutes: 15}

	return &attributionFixture{
		svc:          NewAttributionService(inviteRepo, ledgerRepo, relationRepo, lister, cfg),
		inviteRepo:   inviteRepo,
		ledgerRepo:   ledgerRepo,
		relationRepo: relationRepo,
		lister:       lister,
	}
}

func joinEvent(guildID, userID int64, accountAge time.Duration) *platform.MemberJoinEvent {
	now := time.Now().UTC()
	return &platform.MemberJoinEvent{
		GuildID:          guildID,
		UserID:           userID,
		AccountCreatedAt: now.Add(-accountAge),
		JoinedAt:         now,
	}
}

func TestHandleMemberJoin_Attributed(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.lister.set([]platform.InviteMeta{
		{Code: "alpha", InviterID: 100, Uses: 5},
		{Code: "beta", InviterID: 200, Uses: 2},
	}, nil)
	if err := f.svc.RefreshGuildInvites(ctx, 1); err != nil {
		t.Fatalf("预热快照失败: %v", err)
	}

	f.lister.set([]platform.InviteMeta{
		{Code: "alpha", InviterID: 100, Uses: 6},
		{Code: "beta", InviterID: 200, Uses: 2},
	}, nil)

	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if !result.Attributed {
		t.Fatal("期望本次加入被归因")
	}
	if result.Code != "alpha" {
		t.Errorf("期望归因到 alpha, 实际 %s", result.Code)
	}
	if result.InviterID != 100 {
		t.Errorf("期望邀请人 100, 实际 %d", result.InviterID)
	}
	if result.Fake {
		t.Error("30 天的老账号不应判为假")
	}

	row, _ := f.ledgerRepo.Get(ctx, 100, 1)
	if row == nil || row.TotalInvites != 1 {
		t.Errorf("期望邀请人台账 total=1, 实际 %+v", row)
	}

	inviterID, found, _ := f.relationRepo.LatestInviter(ctx, 1, 999)
	if !found || inviterID != 100 {
		t.Errorf("期望归因历史记录邀请人 100, 实际 found=%v inviter=%d", found, inviterID)
	}
}

func TestHandleMemberJoin_FakeAccount(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 0}}, nil)
	f.svc.RefreshGuildInvites(ctx, 1)
	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 1}}, nil)

	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 2*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if !result.Attributed || !result.Fake {
		t.Fatalf("2 天的新账号应归因且判为假, 实际 %+v", result)
	}

	row, _ := f.ledgerRepo.Get(ctx, 100, 1)
	if row.TotalInvites != 1 || row.FakeInvites != 1 {
		t.Errorf("期望 total=1 fake=1, 实际 total=%d fake=%d", row.TotalInvites, row.FakeInvites)
	}
	if row.Net() != 0 {
		t.Errorf("假邀请不应贡献净值, 实际 net=%d", row.Net())
	}
}

func TestHandleMemberJoin_ColdSnapshot(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	// 快照从未预热，第一次加入只能建立基线
	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 3}}, nil)

	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if result.Attributed {
		t.Error("冷快照下的第一次加入不应被归因")
	}

	// 基线建立后，下一次加入可以正常差分
	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 4}}, nil)
	result, err = f.svc.HandleMemberJoin(ctx, joinEvent(1, 1000, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if !result.Attributed || result.Code != "alpha" {
		t.Errorf("基线建立后应归因到 alpha, 实际 %+v", result)
	}
}

func TestHandleMemberJoin_Duplicate(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 0}}, nil)
	f.svc.RefreshGuildInvites(ctx, 1)
	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 1}}, nil)

	ev := joinEvent(1, 999, 30*24*time.Hour)
	if _, err := f.svc.HandleMemberJoin(ctx, ev); err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}

	result, err := f.svc.HandleMemberJoin(ctx, ev)
	if err != nil {
		t.Fatalf("处理重复事件失败: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("同一事件的第二次投递应被去重")
	}

	row, _ := f.ledgerRepo.Get(ctx, 100, 1)
	if row.TotalInvites != 1 {
		t.Errorf("重复事件不应重复记账, 实际 total=%d", row.TotalInvites)
	}
}

func TestHandleMemberJoin_FetchFailure(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.lister.set(nil, errors.New("platform unavailable"))

	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("平台不可用应软失败而不是报错: %v", err)
	}
	if result.Attributed {
		t.Error("平台不可用时不应归因")
	}
}

func TestHandleMemberJoin_UnknownInviter(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	// 平台没有给出该邀请码的邀请人
	f.lister.set([]platform.InviteMeta{{Code: "vanity", InviterID: 0, Uses: 9}}, nil)
	f.svc.RefreshGuildInvites(ctx, 1)
	f.lister.set([]platform.InviteMeta{{Code: "vanity", InviterID: 0, Uses: 10}}, nil)

	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if result.Attributed {
		t.Error("邀请人未知时不应记账")
	}
	if result.Code != "vanity" {
		t.Errorf("差分结果仍应返回被用掉的码, 实际 %s", result.Code)
	}
	if row, _ := f.ledgerRepo.Get(ctx, 0, 1); row != nil {
		t.Error("不应给用户 0 建台账行")
	}
}

func TestHandleMemberJoin_PreviouslyInvited(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.relationRepo.Create(ctx, 1, 100, 999, time.Now().UTC().Add(-48*time.Hour))

	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 1}}, nil)
	f.svc.RefreshGuildInvites(ctx, 1)
	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 2}}, nil)

	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if !result.PreviouslyInvited {
		t.Error("同一邀请人再次邀请同一用户应标记 PreviouslyInvited")
	}
	row, _ := f.ledgerRepo.Get(ctx, 100, 1)
	if row.TotalInvites != 1 {
		t.Errorf("重复邀请仍按一次记账, 实际 total=%d", row.TotalInvites)
	}
}

func TestHandleMemberLeave_MostRecentWins(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	now := time.Now().UTC()
	f.relationRepo.Create(ctx, 1, 100, 999, now.Add(-72*time.Hour))
	f.relationRepo.Create(ctx, 1, 200, 999, now.Add(-1*time.Hour))

	if err := f.svc.HandleMemberLeave(ctx, 1, 999); err != nil {
		t.Fatalf("处理离开事件失败: %v", err)
	}

	recent, _ := f.ledgerRepo.Get(ctx, 200, 1)
	if recent == nil || recent.LeftInvites != 1 {
		t.Errorf("流失应记在最近一次的邀请人身上, 实际 %+v", recent)
	}
	if earlier, _ := f.ledgerRepo.Get(ctx, 100, 1); earlier != nil && earlier.LeftInvites != 0 {
		t.Errorf("更早的邀请人不应被记流失, 实际 left=%d", earlier.LeftInvites)
	}
}

func TestHandleMemberLeave_NoRecord(t *testing.T) {
	f := newAttributionFixture()

	if err := f.svc.HandleMemberLeave(context.Background(), 1, 999); err != nil {
		t.Fatalf("无归因记录的离开应是空操作: %v", err)
	}
}

func TestDiffSnapshots(t *testing.T) {
	cases := []struct {
		name     string
		old      map[string]int
		current  map[string]int
		expected string
	}{
		{
			name:     "单码增加",
			old:      map[string]int{"alpha": 5, "beta": 2},
			current:  map[string]int{"alpha": 6, "beta": 2},
			expected: "alpha",
		},
		{
			name:     "无变化",
			old:      map[string]int{"alpha": 5},
			current:  map[string]int{"alpha": 5},
			expected: "",
		},
		{
			name:     "多码同增取字典序最小",
			old:      map[string]int{"beta": 1, "alpha": 1},
			current:  map[string]int{"beta": 2, "alpha": 2},
			expected: "alpha",
		},
		{
			name:     "新码不参与差分",
			old:      map[string]int{"alpha": 5},
			current:  map[string]int{"alpha": 5, "gamma": 1},
			expected: "",
		},
		{
			name:     "旧码被删除",
			old:      map[string]int{"alpha": 5},
			current:  map[string]int{},
			expected: "",
		},
		{
			name:     "空基线",
			old:      nil,
			current:  map[string]int{"alpha": 1},
			expected: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := diffSnapshots(tc.old, tc.current)
			if got != tc.expected {
				t.Errorf("期望 %q, 实际 %q", tc.expected, got)
			}
		})
	}
}

func TestTrackedCodes(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.lister.set([]platform.InviteMeta{
		{Code: "alpha", InviterID: 100, Uses: 5},
		{Code: "beta", InviterID: 200, Uses: 2},
	}, nil)
	if err := f.svc.RefreshGuildInvites(ctx, 1); err != nil {
		t.Fatalf("预热快照失败: %v", err)
	}

	codes, err := f.svc.TrackedCodes(ctx, 1)
	if err != nil {
		t.Fatalf("查询已跟踪邀请码失败: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("期望 2 个邀请码, 实际 %d", len(codes))
	}
	byCode := make(map[string]int64)
	for _, c := range codes {
		byCode[c.Code] = c.InviterID
	}
	if byCode["alpha"] != 100 || byCode["beta"] != 200 {
		t.Errorf("邀请人归属不符: %v", byCode)
	}

	codes, err = f.svc.TrackedCodes(ctx, 2)
	if err != nil || len(codes) != 0 {
		t.Errorf("其他 guild 不应有邀请码, 实际 (%v, %v)", codes, err)
	}
}

func TestRefreshGuildInvites_FailureClearsSnapshot(t *testing.T) {
	f := newAttributionFixture()
	ctx := context.Background()

	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 5}}, nil)
	f.svc.RefreshGuildInvites(ctx, 1)

	f.lister.set(nil, errors.New("platform unavailable"))
	if err := f.svc.RefreshGuildInvites(ctx, 1); err == nil {
		t.Fatal("拉取失败应返回错误")
	}

	// 快照被清空后，恢复时的第一次加入不会用旧基线误归因
	f.lister.set([]platform.InviteMeta{{Code: "alpha", InviterID: 100, Uses: 6}}, nil)
	result, err := f.svc.HandleMemberJoin(ctx, joinEvent(1, 999, 30*24*time.Hour))
	if err != nil {
		t.Fatalf("处理加入事件失败: %v", err)
	}
	if result.Attributed {
		t.Error("快照清空后的第一次加入不应被归因")
	}
}
