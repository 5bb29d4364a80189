package models

import "time"

const (
	GiveawayStatusActive = "active"
	GiveawayStatusEnded  = "ended"
)

// Giveaway 抽奖活动，status 只会从 active 单向流转到 ended，行不删除
type Giveaway struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID   int64     `gorm:"index" json:"guild_id"`
	HostID    int64     `json:"host_id"`
	Prize     string    `gorm:"size:255" json:"prize"`
	MessageID int64     `gorm:"uniqueIndex" json:"message_id"`
	ChannelID int64     `json:"channel_id"`
	Winners   int       `gorm:"not null;default:1" json:"winners"`
	EndTime   time.Time `gorm:"index" json:"end_time"`
	Status    string    `gorm:"size:16;not null;default:active;index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Giveaway) TableName() string {
	return "giveaways"
}
