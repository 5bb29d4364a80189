package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"invite-giveaway-system/internal/config"
	"invite-giveaway-system/internal/models"
	"invite-giveaway-system/internal/platform"
	"invite-giveaway-system/internal/repository"
	"invite-giveaway-system/pkg/errors"
	"invite-giveaway-system/pkg/logger"
)

// JoinResult 一次加入事件的归因结果，供展示层使用
type JoinResult struct {
	Duplicate         bool
	Code              string
	Attributed        bool
	InviterID         int64
	Fake              bool
	PreviouslyInvited bool
}

// AttributionService 加入归因引擎
// 持有两块进程内状态：每个 guild 的邀请码使用数快照，以及
// 加入事件的去重窗口。两者都不落库，丢弃后可随时从平台重建，
// 冷快照只会导致本次加入无归因，不会产生错误归因
type AttributionService struct {
	inviteRepo   repository.InviteCodeRepository
	ledgerRepo   repository.LedgerRepository
	relationRepo repository.RelationshipRepository
	platform     platform.InviteLister

	fakeAge     time.Duration
	dedupWindow time.Duration

	mu        sync.Mutex
	snapshots map[int64]map[string]int
	seenJoins map[string]time.Time
}

func NewAttributionService(
	inviteRepo repository.InviteCodeRepository,
	ledgerRepo repository.LedgerRepository,
	relationRepo repository.RelationshipRepository,
	lister platform.InviteLister,
	cfg *config.InvitesConfig,
) *AttributionService {
	return &AttributionService{
		inviteRepo:   inviteRepo,
		ledgerRepo:   ledgerRepo,
		relationRepo: relationRepo,
		platform:     lister,
		fakeAge:      cfg.FakeAccountAge(),
		dedupWindow:  cfg.DedupWindow(),
		snapshots:    make(map[int64]map[string]int),
		seenJoins:    make(map[string]time.Time),
	}
}

// RefreshGuildInvites 从平台拉取邀请码列表，覆盖快照并落库元数据
// 拉取失败时快照清空，后续第一次加入将无法归因（软失败）
func (s *AttributionService) RefreshGuildInvites(ctx context.Context, guildID int64) error {
	invites, err := s.platform.ListGuildInvites(ctx, guildID)
	if err != nil {
		s.mu.Lock()
		s.snapshots[guildID] = make(map[string]int)
		s.mu.Unlock()
		return errors.New(errors.ErrPlatformFetch,
			fmt.Sprintf("拉取 guild %d 邀请码失败", guildID), err)
	}

	snapshot := s.persistSnapshot(ctx, guildID, invites)

	s.mu.Lock()
	s.snapshots[guildID] = snapshot
	s.mu.Unlock()
	return nil
}

// HandleMemberJoin 处理一次成员加入
// 流程：去重 → 拉取快照 → 差分定位被用掉的邀请码 → 台账记账。
// 平台拉取失败只记日志并跳过归因，事件本身照常处理
func (s *AttributionService) HandleMemberJoin(ctx context.Context, ev *platform.MemberJoinEvent) (*JoinResult, error) {
	key := joinKey(ev.GuildID, ev.UserID, ev.JoinedAt)

	s.mu.Lock()
	now := time.Now().UTC()
	s.evictSeenLocked(now)
	if _, seen := s.seenJoins[key]; seen {
		s.mu.Unlock()
		return &JoinResult{Duplicate: true}, nil
	}
	s.seenJoins[key] = ev.JoinedAt
	s.mu.Unlock()

	invites, err := s.platform.ListGuildInvites(ctx, ev.GuildID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"guild_id": ev.GuildID,
			"user_id":  ev.UserID,
			"error":    err.Error(),
		}).Warn("拉取邀请码失败，本次加入不做归因")
		return &JoinResult{}, nil
	}

	newSnapshot := s.persistSnapshot(ctx, ev.GuildID, invites)

	s.mu.Lock()
	usedCode := diffSnapshots(s.snapshots[ev.GuildID], newSnapshot)
	s.snapshots[ev.GuildID] = newSnapshot
	s.mu.Unlock()

	if usedCode == "" {
		return &JoinResult{}, nil
	}

	info, err := s.inviteRepo.GetByCode(ctx, usedCode, ev.GuildID)
	if err != nil {
		return nil, errors.New(errors.ErrLedgerUpdate, "查询邀请码失败", err)
	}
	if info == nil || info.InviterID == 0 {
		// 邀请码存在但邀请人未知，不记账
		return &JoinResult{Code: usedCode}, nil
	}

	isFake := now.Sub(ev.AccountCreatedAt) < s.fakeAge

	wasPrevious, err := s.relationRepo.ExistsPair(ctx, ev.GuildID, info.InviterID, ev.UserID)
	if err != nil {
		return nil, errors.New(errors.ErrLedgerUpdate, "查询历史归因失败", err)
	}

	if err := s.ledgerRepo.AddInvite(ctx, info.InviterID, ev.GuildID, isFake); err != nil {
		return nil, errors.New(errors.ErrLedgerUpdate, "台账记账失败", err)
	}
	if err := s.relationRepo.Create(ctx, ev.GuildID, info.InviterID, ev.UserID, ev.JoinedAt); err != nil {
		return nil, errors.New(errors.ErrLedgerUpdate, "写入归因历史失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"guild_id":   ev.GuildID,
		"user_id":    ev.UserID,
		"code":       usedCode,
		"inviter_id": info.InviterID,
		"fake":       isFake,
	}).Info("加入已归因")

	return &JoinResult{
		Code:              usedCode,
		Attributed:        true,
		InviterID:         info.InviterID,
		Fake:              isFake,
		PreviouslyInvited: wasPrevious,
	}, nil
}

// HandleMemberLeave 处理成员离开：按最近一次归因给邀请人记一次流失
// 没有归因记录时不做任何事
func (s *AttributionService) HandleMemberLeave(ctx context.Context, guildID, userID int64) error {
	inviterID, found, err := s.relationRepo.LatestInviter(ctx, guildID, userID)
	if err != nil {
		return errors.New(errors.ErrLedgerUpdate, "查询离开归因失败", err)
	}
	if !found {
		return nil
	}

	if err := s.ledgerRepo.IncrementLeft(ctx, inviterID, guildID); err != nil {
		return errors.New(errors.ErrLedgerUpdate, "记录流失失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"guild_id":   guildID,
		"user_id":    userID,
		"inviter_id": inviterID,
	}).Info("成员离开已记账")
	return nil
}

// PreviouslyInvited 该邀请人是否曾邀请过该用户，纯查询
func (s *AttributionService) PreviouslyInvited(ctx context.Context, guildID, inviterID, userID int64) (bool, error) {
	return s.relationRepo.ExistsPair(ctx, guildID, inviterID, userID)
}

// TrackedCodes 返回已落库的邀请码元数据，供管理接口查看
func (s *AttributionService) TrackedCodes(ctx context.Context, guildID int64) ([]models.InviteCode, error) {
	return s.inviteRepo.ListByGuild(ctx, guildID)
}

// persistSnapshot 把平台返回的邀请码逐条落库并转成快照 map
// 单条落库失败记日志后继续，快照仍然使用平台数据
func (s *AttributionService) persistSnapshot(ctx context.Context, guildID int64, invites []platform.InviteMeta) map[string]int {
	snapshot := make(map[string]int, len(invites))
	for _, inv := range invites {
		snapshot[inv.Code] = inv.Uses
		err := s.inviteRepo.Upsert(ctx, &models.InviteCode{
			Code:      inv.Code,
			GuildID:   guildID,
			InviterID: inv.InviterID,
			Uses:      inv.Uses,
			MaxUses:   inv.MaxUses,
		})
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"guild_id": guildID,
				"code":     inv.Code,
				"error":    err.Error(),
			}).Error("落库邀请码失败")
		}
	}
	return snapshot
}

// diffSnapshots 找出使用次数增加的邀请码
// 按旧快照 code 的字典序遍历，多个计数同时增加时取字典序最小者，
// 保证并发加入下的选择在多次运行间一致
func diffSnapshots(old, current map[string]int) string {
	codes := make([]string, 0, len(old))
	for code := range old {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		uses, ok := current[code]
		if ok && uses > old[code] {
			return code
		}
	}
	return ""
}

func (s *AttributionService) evictSeenLocked(now time.Time) {
	cutoff := now.Add(-s.dedupWindow)
	for key, joinedAt := range s.seenJoins {
		if joinedAt.Before(cutoff) {
			delete(s.seenJoins, key)
		}
	}
}

func joinKey(guildID, userID int64, joinedAt time.Time) string {
	return fmt.Sprintf("%d_%d_%d", guildID, userID, joinedAt.Unix())
}
