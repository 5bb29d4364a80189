package models

import "time"

// UserInvites 每个用户在每个 guild 下的邀请台账，(user_id, guild_id) 唯一
// 净邀请数 net = total - left - fake + bonus，始终按需计算，不落库
type UserInvites struct {
	UserID         int64     `gorm:"primaryKey" json:"user_id"`
	GuildID        int64     `gorm:"primaryKey" json:"guild_id"`
	TotalInvites   int       `gorm:"not null;default:0" json:"total_invites"`
	LeftInvites    int       `gorm:"not null;default:0" json:"left_invites"`
	FakeInvites    int       `gorm:"not null;default:0" json:"fake_invites"`
	BonusInvites   int       `gorm:"not null;default:0" json:"bonus_invites"`
	ClaimedInvites int       `gorm:"not null;default:0" json:"claimed_invites"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserInvites) TableName() string {
	return "user_invites"
}

// Net 计算净邀请数，允许为负
func (u *UserInvites) Net() int {
	return u.TotalInvites - u.LeftInvites - u.FakeInvites + u.BonusInvites
}

// LeaderboardEntry 排行榜查询的扫描结果，net 在 SQL 中计算
type LeaderboardEntry struct {
	UserID       int64 `json:"user_id"`
	TotalInvites int   `json:"total_invites"`
	LeftInvites  int   `json:"left_invites"`
	FakeInvites  int   `json:"fake_invites"`
	BonusInvites int   `json:"bonus_invites"`
	NetInvites   int   `json:"net_invites"`
}
