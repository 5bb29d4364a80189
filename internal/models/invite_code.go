package models

import "time"

// InviteCode 平台上报的邀请码元数据，(code, guild_id) 唯一
// uses 来源于平台，假定单调不减，不在本地强制
type InviteCode struct {
	Code      string    `gorm:"primaryKey;size:32" json:"code"`
	GuildID   int64     `gorm:"primaryKey" json:"guild_id"`
	InviterID int64     `gorm:"index" json:"inviter_id"`
	Uses      int       `gorm:"not null;default:0" json:"uses"`
	MaxUses   int       `gorm:"not null;default:0" json:"max_uses"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (InviteCode) TableName() string {
	return "invite_codes"
}
