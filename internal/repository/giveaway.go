package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"invite-giveaway-system/internal/models"
)

// GiveawayRepository 抽奖活动访问接口
type GiveawayRepository interface {
	Create(ctx context.Context, giveaway *models.Giveaway) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Giveaway, error)
	GetByMessage(ctx context.Context, messageID int64) (*models.Giveaway, error)
	ActiveByGuild(ctx context.Context, guildID int64) ([]models.Giveaway, error)
	FindExpired(ctx context.Context, now time.Time) ([]models.Giveaway, error)
	MarkEnded(ctx context.Context, id int64) (bool, error)
}

type giveawayRepo struct {
	db *gorm.DB
}

func NewGiveawayRepository(db *gorm.DB) GiveawayRepository {
	return &giveawayRepo{db: db}
}

func (r *giveawayRepo) Create(ctx context.Context, giveaway *models.Giveaway) (int64, error) {
	giveaway.Status = models.GiveawayStatusActive
	if err := r.db.WithContext(ctx).Create(giveaway).Error; err != nil {
		return 0, err
	}
	return giveaway.ID, nil
}

func (r *giveawayRepo) GetByID(ctx context.Context, id int64) (*models.Giveaway, error) {
	var giveaway models.Giveaway
	err := r.db.WithContext(ctx).First(&giveaway, id).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &giveaway, nil
}

// GetByMessage 按平台消息 id 定位抽奖
// 报名交互事件只携带消息 id，不携带抽奖 id
func (r *giveawayRepo) GetByMessage(ctx context.Context, messageID int64) (*models.Giveaway, error) {
	var giveaway models.Giveaway
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&giveaway).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &giveaway, nil
}

func (r *giveawayRepo) ActiveByGuild(ctx context.Context, guildID int64) ([]models.Giveaway, error) {
	var giveaways []models.Giveaway
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND status = ?", guildID, models.GiveawayStatusActive).
		Order("created_at DESC").
		Find(&giveaways).Error
	return giveaways, err
}

func (r *giveawayRepo) FindExpired(ctx context.Context, now time.Time) ([]models.Giveaway, error) {
	var giveaways []models.Giveaway
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", models.GiveawayStatusActive, now).
		Find(&giveaways).Error
	return giveaways, err
}

// MarkEnded 原子地把 active 行置为 ended
// 返回本次调用是否完成了状态流转：两次并发调用只有一次拿到 true，
// 拿到 true 的一方才有资格开奖和公告
func (r *giveawayRepo) MarkEnded(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Giveaway{}).
		Where("id = ? AND status = ?", id, models.GiveawayStatusActive).
		Update("status", models.GiveawayStatusEnded)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
