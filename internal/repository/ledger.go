package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"invite-giveaway-system/internal/models"
)

// LedgerRepository 邀请台账访问接口
// 变更操作是一组封闭的枚举：每种计数只能通过对应方法递增，
// 不提供按字段名的开放式更新
type LedgerRepository interface {
	Get(ctx context.Context, userID, guildID int64) (*models.UserInvites, error)
	AddInvite(ctx context.Context, inviterID, guildID int64, fake bool) error
	IncrementLeft(ctx context.Context, userID, guildID int64) error
	AddBonus(ctx context.Context, userID, guildID int64, amount int) error
	AddClaims(ctx context.Context, userID, guildID int64, amount int) error
	RemoveClaims(ctx context.Context, userID, guildID int64, amount int) error
	AddHistorical(ctx context.Context, userID, guildID int64, deltaTotal, estimatedLeft int) error
	Leaderboard(ctx context.Context, guildID int64, limit int) ([]models.LeaderboardEntry, error)
}

type ledgerRepo struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepo{db: db}
}

// Get 查询台账行，不存在时返回 nil
func (r *ledgerRepo) Get(ctx context.Context, userID, guildID int64) (*models.UserInvites, error) {
	var invites models.UserInvites
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND guild_id = ?", userID, guildID).
		First(&invites).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invites, nil
}

// AddInvite 原子性记一次邀请
// 使用 INSERT ... ON DUPLICATE KEY UPDATE 实现惰性建行加递增
func (r *ledgerRepo) AddInvite(ctx context.Context, inviterID, guildID int64, fake bool) error {
	fakeDelta := 0
	if fake {
		fakeDelta = 1
	}
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO user_invites (user_id, guild_id, total_invites, fake_invites, created_at)
		VALUES (?, ?, 1, ?, NOW())
		ON DUPLICATE KEY UPDATE
			total_invites = total_invites + 1,
			fake_invites = fake_invites + VALUES(fake_invites)
	`, inviterID, guildID, fakeDelta).Error
}

func (r *ledgerRepo) IncrementLeft(ctx context.Context, userID, guildID int64) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO user_invites (user_id, guild_id, left_invites, created_at)
		VALUES (?, ?, 1, NOW())
		ON DUPLICATE KEY UPDATE
			left_invites = left_invites + 1
	`, userID, guildID).Error
}

func (r *ledgerRepo) AddBonus(ctx context.Context, userID, guildID int64, amount int) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO user_invites (user_id, guild_id, bonus_invites, created_at)
		VALUES (?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			bonus_invites = bonus_invites + VALUES(bonus_invites)
	`, userID, guildID, amount).Error
}

func (r *ledgerRepo) AddClaims(ctx context.Context, userID, guildID int64, amount int) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO user_invites (user_id, guild_id, claimed_invites, created_at)
		VALUES (?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			claimed_invites = claimed_invites + VALUES(claimed_invites)
	`, userID, guildID, amount).Error
}

// RemoveClaims 扣减 claimed，结果在 SQL 侧钳制为不小于 0
func (r *ledgerRepo) RemoveClaims(ctx context.Context, userID, guildID int64, amount int) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO user_invites (user_id, guild_id, claimed_invites, created_at)
		VALUES (?, ?, 0, NOW())
		ON DUPLICATE KEY UPDATE
			claimed_invites = GREATEST(0, claimed_invites - ?)
	`, userID, guildID, amount).Error
}

// AddHistorical 历史同步的一次性补账：total 加增量，left 加估算值
func (r *ledgerRepo) AddHistorical(ctx context.Context, userID, guildID int64, deltaTotal, estimatedLeft int) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO user_invites (user_id, guild_id, total_invites, left_invites, created_at)
		VALUES (?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			total_invites = total_invites + VALUES(total_invites),
			left_invites = left_invites + VALUES(left_invites)
	`, userID, guildID, deltaTotal, estimatedLeft).Error
}

// Leaderboard 按净邀请数降序返回排行榜
// 次级排序键 user_id 升序保证并列名次的顺序在多次运行间稳定
func (r *ledgerRepo) Leaderboard(ctx context.Context, guildID int64, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := r.db.WithContext(ctx).Raw(`
		SELECT user_id, total_invites, left_invites, fake_invites, bonus_invites,
		       (total_invites - left_invites - fake_invites + bonus_invites) AS net_invites
		FROM user_invites
		WHERE guild_id = ? AND total_invites > 0
		ORDER BY net_invites DESC, user_id ASC
		LIMIT ?
	`, guildID, limit).Scan(&entries).Error
	return entries, err
}
