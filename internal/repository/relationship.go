package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"invite-giveaway-system/internal/models"
)

// RelationshipRepository 归因历史访问接口，只追加
type RelationshipRepository interface {
	Create(ctx context.Context, guildID, inviterID, invitedUserID int64, joinedAt time.Time) error
	LatestInviter(ctx context.Context, guildID, invitedUserID int64) (int64, bool, error)
	ExistsPair(ctx context.Context, guildID, inviterID, invitedUserID int64) (bool, error)
}

type relationshipRepo struct {
	db *gorm.DB
}

func NewRelationshipRepository(db *gorm.DB) RelationshipRepository {
	return &relationshipRepo{db: db}
}

func (r *relationshipRepo) Create(ctx context.Context, guildID, inviterID, invitedUserID int64, joinedAt time.Time) error {
	rel := &models.InviteRelationship{
		GuildID:       guildID,
		InviterID:     inviterID,
		InvitedUserID: invitedUserID,
		JoinedAt:      joinedAt,
	}
	return r.db.WithContext(ctx).Create(rel).Error
}

// LatestInviter 取该用户最近一次被归因的邀请人
// 多次加入时只有最新一行参与离开记账
func (r *relationshipRepo) LatestInviter(ctx context.Context, guildID, invitedUserID int64) (int64, bool, error) {
	var rel models.InviteRelationship
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND invited_user_id = ?", guildID, invitedUserID).
		Order("joined_at DESC").
		First(&rel).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rel.InviterID, true, nil
}

// ExistsPair 该邀请人是否曾邀请过该用户
func (r *relationshipRepo) ExistsPair(ctx context.Context, guildID, inviterID, invitedUserID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.InviteRelationship{}).
		Where("guild_id = ? AND inviter_id = ? AND invited_user_id = ?", guildID, inviterID, invitedUserID).
		Count(&count).Error
	return count > 0, err
}
