package models

import "time"

// GiveawayEntry 抽奖报名记录，(giveaway_id, user_id) 唯一
// 重复插入由唯一索引吸收为无操作
type GiveawayEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GiveawayID int64     `gorm:"uniqueIndex:uk_giveaway_user" json:"giveaway_id"`
	UserID     int64     `gorm:"uniqueIndex:uk_giveaway_user" json:"user_id"`
	EnteredAt  time.Time `gorm:"autoCreateTime" json:"entered_at"`
}

func (GiveawayEntry) TableName() string {
	return "giveaway_entries"
}
