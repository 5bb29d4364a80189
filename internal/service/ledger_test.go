package service

import (
	"context"
	"reflect"
	"testing"
)

func TestGetUserInvites_MissingRow(t *testing.T) {
	svc := NewLedgerService(newMockLedgerRepo())

	stats, err := svc.GetUserInvites(context.Background(), 100, 1)
	if err != nil {
		t.Fatalf("查询不存在的用户失败: %v", err)
	}
	if *stats != (InviteStats{}) {
		t.Errorf("不存在的用户应返回全零统计, 实际 %+v", stats)
	}
}

func TestGetUserInvites_NetFormula(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	// total=5 其中 fake=1, left=2, bonus=3
	for i := 0; i < 4; i++ {
		repo.AddInvite(ctx, 100, 1, false)
	}
	repo.AddInvite(ctx, 100, 1, true)
	repo.IncrementLeft(ctx, 100, 1)
	repo.IncrementLeft(ctx, 100, 1)
	svc.AddBonus(ctx, 100, 1, 3)

	stats, err := svc.GetUserInvites(ctx, 100, 1)
	if err != nil {
		t.Fatalf("查询台账失败: %v", err)
	}
	if stats.Total != 5 || stats.Left != 2 || stats.Fake != 1 || stats.Bonus != 3 {
		t.Fatalf("计数不符: %+v", stats)
	}
	// net = total - left - fake + bonus = 5 - 2 - 1 + 3
	if stats.Net != 5 {
		t.Errorf("期望 net=5, 实际 %d", stats.Net)
	}
}

func TestRemoveClaims_ClampsAtZero(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	svc.AddClaims(ctx, 100, 1, 3)
	if err := svc.RemoveClaims(ctx, 100, 1, 5); err != nil {
		t.Fatalf("扣减 claims 失败: %v", err)
	}

	stats, _ := svc.GetUserInvites(ctx, 100, 1)
	if stats.Claimed != 0 {
		t.Errorf("超额扣减应钳制为 0, 实际 %d", stats.Claimed)
	}

	if err := svc.RemoveClaims(ctx, 200, 1, 1); err != nil {
		t.Fatalf("对空行扣减失败: %v", err)
	}
	stats, _ = svc.GetUserInvites(ctx, 200, 1)
	if stats.Claimed != 0 {
		t.Errorf("空行扣减后仍应为 0, 实际 %d", stats.Claimed)
	}
}

func TestLeaderboard_Ordering(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	// 300: net=4, 100 和 200 同为 net=2, 400 无邀请不上榜
	for i := 0; i < 4; i++ {
		repo.AddInvite(ctx, 300, 1, false)
	}
	for i := 0; i < 2; i++ {
		repo.AddInvite(ctx, 100, 1, false)
		repo.AddInvite(ctx, 200, 1, false)
	}
	repo.AddBonus(ctx, 400, 1, 10)

	entries, err := svc.Leaderboard(ctx, 1, 10)
	if err != nil {
		t.Fatalf("查询排行榜失败: %v", err)
	}

	var userIDs []int64
	for _, e := range entries {
		userIDs = append(userIDs, e.UserID)
	}
	expected := []int64{300, 100, 200}
	if !reflect.DeepEqual(userIDs, expected) {
		t.Errorf("期望顺序 %v, 实际 %v", expected, userIDs)
	}

	// 并列名次在多次查询间保持一致
	again, _ := svc.Leaderboard(ctx, 1, 10)
	var againIDs []int64
	for _, e := range again {
		againIDs = append(againIDs, e.UserID)
	}
	if !reflect.DeepEqual(userIDs, againIDs) {
		t.Errorf("两次查询顺序不一致: %v vs %v", userIDs, againIDs)
	}
}

func TestLeaderboard_DefaultLimit(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	for userID := int64(1); userID <= 15; userID++ {
		repo.AddInvite(ctx, userID, 1, false)
	}

	entries, err := svc.Leaderboard(ctx, 1, 0)
	if err != nil {
		t.Fatalf("查询排行榜失败: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("limit<=0 时应回落到 10, 实际 %d", len(entries))
	}
}

func TestSyncHistorical(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	// 100 已有 total=2, 平台侧累计 10; 200 是全新邀请人
	repo.AddHistorical(ctx, 100, 1, 2, 0)

	synced, err := svc.SyncHistorical(ctx, 1, map[string]SyncEntry{
		"alpha": {InviterID: 100, Uses: 10},
		"beta":  {InviterID: 200, Uses: 4},
		"gamma": {InviterID: 0, Uses: 99},  // 无邀请人，跳过
		"delta": {InviterID: 300, Uses: 0}, // 无使用，跳过
	})
	if err != nil {
		t.Fatalf("历史补账失败: %v", err)
	}
	if synced != 2 {
		t.Errorf("期望补账 2 人, 实际 %d", synced)
	}

	stats, _ := svc.GetUserInvites(ctx, 100, 1)
	if stats.Total != 10 {
		t.Errorf("期望补账后 total=10, 实际 %d", stats.Total)
	}
	// left 为 0 时按 uses 的 15%~35% 估算流失
	if stats.Left < 1 || stats.Left > 3 {
		t.Errorf("估算流失应在 [1,3] 内, 实际 %d", stats.Left)
	}

	stats, _ = svc.GetUserInvites(ctx, 200, 1)
	if stats.Total != 4 {
		t.Errorf("新邀请人 total 应为 4, 实际 %d", stats.Total)
	}
}

func TestSyncHistorical_SkipsUpToDate(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	repo.AddHistorical(ctx, 100, 1, 10, 0)

	synced, err := svc.SyncHistorical(ctx, 1, map[string]SyncEntry{
		"alpha": {InviterID: 100, Uses: 10},
		"beta":  {InviterID: 100, Uses: 7},
	})
	if err != nil {
		t.Fatalf("历史补账失败: %v", err)
	}
	if synced != 0 {
		t.Errorf("台账不落后于平台时不应补账, 实际补了 %d", synced)
	}

	stats, _ := svc.GetUserInvites(ctx, 100, 1)
	if stats.Total != 10 || stats.Left != 0 {
		t.Errorf("台账不应被改动, 实际 %+v", stats)
	}
}

func TestSyncHistorical_NoEstimateWhenLeftKnown(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewLedgerService(repo)
	ctx := context.Background()

	// 已经有流失记录的邀请人不再估算
	repo.AddHistorical(ctx, 100, 1, 2, 0)
	repo.IncrementLeft(ctx, 100, 1)

	if _, err := svc.SyncHistorical(ctx, 1, map[string]SyncEntry{
		"alpha": {InviterID: 100, Uses: 10},
	}); err != nil {
		t.Fatalf("历史补账失败: %v", err)
	}

	stats, _ := svc.GetUserInvites(ctx, 100, 1)
	if stats.Left != 1 {
		t.Errorf("已有流失记录时不应追加估算, 实际 left=%d", stats.Left)
	}
}
