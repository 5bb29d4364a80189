package models

import "time"

// InviteRelationship 归因历史，只追加不修改
// 同一用户多次加入会产生多行，离开时按 joined_at 最新的一行记账
type InviteRelationship struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID       int64     `gorm:"index:idx_guild_invited,priority:1" json:"guild_id"`
	InviterID     int64     `gorm:"index" json:"inviter_id"`
	InvitedUserID int64     `gorm:"index:idx_guild_invited,priority:2" json:"invited_user_id"`
	JoinedAt      time.Time `gorm:"index:idx_guild_invited,priority:3" json:"joined_at"`
}

func (InviteRelationship) TableName() string {
	return "invite_relationships"
}
