package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"invite-giveaway-system/internal/models"
)

// InviteCodeRepository 邀请码元数据访问接口
type InviteCodeRepository interface {
	Upsert(ctx context.Context, code *models.InviteCode) error
	GetByCode(ctx context.Context, code string, guildID int64) (*models.InviteCode, error)
	ListByGuild(ctx context.Context, guildID int64) ([]models.InviteCode, error)
}

type inviteCodeRepo struct {
	db *gorm.DB
}

func NewInviteCodeRepository(db *gorm.DB) InviteCodeRepository {
	return &inviteCodeRepo{db: db}
}

// Upsert 写入或覆盖邀请码元数据
// 平台每次上报都会整体覆盖 inviter/uses/max_uses
func (r *inviteCodeRepo) Upsert(ctx context.Context, code *models.InviteCode) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO invite_codes (code, guild_id, inviter_id, uses, max_uses, created_at)
		VALUES (?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			inviter_id = VALUES(inviter_id),
			uses = VALUES(uses),
			max_uses = VALUES(max_uses)
	`, code.Code, code.GuildID, code.InviterID, code.Uses, code.MaxUses).Error
}

// GetByCode 查询邀请码，不存在时返回 nil
func (r *inviteCodeRepo) GetByCode(ctx context.Context, code string, guildID int64) (*models.InviteCode, error) {
	var invite models.InviteCode
	err := r.db.WithContext(ctx).
		Where("code = ? AND guild_id = ?", code, guildID).
		First(&invite).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *inviteCodeRepo) ListByGuild(ctx context.Context, guildID int64) ([]models.InviteCode, error) {
	var codes []models.InviteCode
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Find(&codes).Error
	return codes, err
}
