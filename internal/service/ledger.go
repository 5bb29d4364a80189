package service

import (
	"context"
	"math/rand"
	"sort"

	"invite-giveaway-system/internal/models"
	"invite-giveaway-system/internal/repository"
	"invite-giveaway-system/pkg/errors"
	"invite-giveaway-system/pkg/logger"
)

// InviteStats 读取侧的台账视图，net 在读取时计算
type InviteStats struct {
	Total   int `json:"total"`
	Left    int `json:"left"`
	Fake    int `json:"fake"`
	Bonus   int `json:"bonus"`
	Claimed int `json:"claimed"`
	Net     int `json:"net"`
}

// SyncEntry 历史同步输入：某个邀请码的邀请人与平台侧累计使用数
type SyncEntry struct {
	InviterID int64
	Uses      int
}

// LedgerService 台账查询与管理操作
type LedgerService struct {
	ledgerRepo repository.LedgerRepository
}

func NewLedgerService(ledgerRepo repository.LedgerRepository) *LedgerService {
	return &LedgerService{ledgerRepo: ledgerRepo}
}

// GetUserInvites 查询用户台账，行不存在时返回全零而不是错误
func (s *LedgerService) GetUserInvites(ctx context.Context, userID, guildID int64) (*InviteStats, error) {
	row, err := s.ledgerRepo.Get(ctx, userID, guildID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &InviteStats{}, nil
	}
	return &InviteStats{
		Total:   row.TotalInvites,
		Left:    row.LeftInvites,
		Fake:    row.FakeInvites,
		Bonus:   row.BonusInvites,
		Claimed: row.ClaimedInvites,
		Net:     row.Net(),
	}, nil
}

func (s *LedgerService) Leaderboard(ctx context.Context, guildID int64, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.ledgerRepo.Leaderboard(ctx, guildID, limit)
}

// AddClaims 增加可领取数，amount 为正由 HTTP 边界保证
func (s *LedgerService) AddClaims(ctx context.Context, userID, guildID int64, amount int) error {
	if err := s.ledgerRepo.AddClaims(ctx, userID, guildID, amount); err != nil {
		return errors.New(errors.ErrLedgerUpdate, "增加 claims 失败", err)
	}
	return nil
}

// RemoveClaims 扣减可领取数，存储层保证结果不小于 0
func (s *LedgerService) RemoveClaims(ctx context.Context, userID, guildID int64, amount int) error {
	if err := s.ledgerRepo.RemoveClaims(ctx, userID, guildID, amount); err != nil {
		return errors.New(errors.ErrLedgerUpdate, "扣减 claims 失败", err)
	}
	return nil
}

func (s *LedgerService) AddBonus(ctx context.Context, userID, guildID int64, amount int) error {
	if err := s.ledgerRepo.AddBonus(ctx, userID, guildID, amount); err != nil {
		return errors.New(errors.ErrLedgerUpdate, "增加 bonus 失败", err)
	}
	return nil
}

// SyncHistorical 一次性历史补账，由运维手工触发
// 对每个有邀请人且平台使用数超过已记录 total 的邀请码，把差值补进 total；
// 若该邀请人当前 left 为 0，再按历史使用数的 15%~35% 随机估一个流失数补进 left，
// 模拟追踪开始前的自然流失。这是有意保留的非确定性启发式，结果不可当作精确值。
// 返回补账的邀请码条数
func (s *LedgerService) SyncHistorical(ctx context.Context, guildID int64, data map[string]SyncEntry) (int, error) {
	codes := make([]string, 0, len(data))
	for code := range data {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	synced := 0
	for _, code := range codes {
		entry := data[code]
		if entry.InviterID == 0 || entry.Uses <= 0 {
			continue
		}

		row, err := s.ledgerRepo.Get(ctx, entry.InviterID, guildID)
		if err != nil {
			return synced, errors.New(errors.ErrInviteSync, "读取台账失败", err)
		}

		currentTotal, currentLeft := 0, 0
		if row != nil {
			currentTotal = row.TotalInvites
			currentLeft = row.LeftInvites
		}

		if entry.Uses <= currentTotal {
			continue
		}

		delta := entry.Uses - currentTotal
		estimatedLeft := 0
		if currentLeft == 0 {
			leftPercentage := 0.15 + rand.Float64()*0.20
			estimatedLeft = int(float64(entry.Uses) * leftPercentage)
		}

		if err := s.ledgerRepo.AddHistorical(ctx, entry.InviterID, guildID, delta, estimatedLeft); err != nil {
			return synced, errors.New(errors.ErrInviteSync, "历史补账失败", err)
		}

		logger.WithFields(map[string]interface{}{
			"guild_id":       guildID,
			"code":           code,
			"inviter_id":     entry.InviterID,
			"delta":          delta,
			"estimated_left": estimatedLeft,
		}).Info("历史邀请已补账")
		synced++
	}

	return synced, nil
}
