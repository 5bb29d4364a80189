package repository

import (
	"context"

	"gorm.io/gorm"

	"invite-giveaway-system/internal/models"
)

// EntryRepository 抽奖报名集合访问接口
// 唯一性由 (giveaway_id, user_id) 唯一索引保证；写操作把
// status 条件放进同一条语句，已结束抽奖的报名集合不再变化
type EntryRepository interface {
	InsertIfActive(ctx context.Context, giveawayID, userID int64) (bool, error)
	DeleteIfActive(ctx context.Context, giveawayID, userID int64) (bool, error)
	Exists(ctx context.Context, giveawayID, userID int64) (bool, error)
	Count(ctx context.Context, giveawayID int64) (int, error)
	List(ctx context.Context, giveawayID int64) ([]int64, error)
}

type entryRepo struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) EntryRepository {
	return &entryRepo{db: db}
}

// InsertIfActive 插入报名记录，仅当抽奖仍为 active 时生效
// 返回是否真正写入：重复报名由唯一索引吸收，抽奖已结束时
// SELECT 不产生行，两种情况都表现为未写入
func (r *entryRepo) InsertIfActive(ctx context.Context, giveawayID, userID int64) (bool, error) {
	result := r.db.WithContext(ctx).Exec(`
		INSERT IGNORE INTO giveaway_entries (giveaway_id, user_id, entered_at)
		SELECT g.id, ?, NOW()
		FROM giveaways g
		WHERE g.id = ? AND g.status = ?
	`, userID, giveawayID, models.GiveawayStatusActive)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteIfActive 删除报名记录，仅当抽奖仍为 active 时生效
func (r *entryRepo) DeleteIfActive(ctx context.Context, giveawayID, userID int64) (bool, error) {
	result := r.db.WithContext(ctx).Exec(`
		DELETE e FROM giveaway_entries e
		JOIN giveaways g ON g.id = e.giveaway_id
		WHERE e.giveaway_id = ? AND e.user_id = ? AND g.status = ?
	`, giveawayID, userID, models.GiveawayStatusActive)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *entryRepo) Exists(ctx context.Context, giveawayID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GiveawayEntry{}).
		Where("giveaway_id = ? AND user_id = ?", giveawayID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *entryRepo) Count(ctx context.Context, giveawayID int64) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GiveawayEntry{}).
		Where("giveaway_id = ?", giveawayID).
		Count(&count).Error
	return int(count), err
}

func (r *entryRepo) List(ctx context.Context, giveawayID int64) ([]int64, error) {
	var userIDs []int64
	err := r.db.WithContext(ctx).
		Model(&models.GiveawayEntry{}).
		Where("giveaway_id = ?", giveawayID).
		Order("entered_at ASC").
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}
