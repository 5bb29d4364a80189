package platform

import (
	"context"
	"time"
)

// InviteMeta 平台返回的单个邀请码，InviterID 为 0 表示平台未给出邀请人
type InviteMeta struct {
	Code      string
	InviterID int64
	Uses      int
	MaxUses   int
}

// InviteLister 平台侧"列出 guild 当前邀请码及使用次数"的查询口
type InviteLister interface {
	ListGuildInvites(ctx context.Context, guildID int64) ([]InviteMeta, error)
}

// Messenger 平台侧发送消息的出口，返回新消息 id
type Messenger interface {
	CreateMessage(ctx context.Context, channelID int64, content string) (int64, error)
}

// Event 网关事件标记接口，分发侧做类型判断
type Event interface {
	isEvent()
}

// MemberJoinEvent 成员加入事件
// AccountCreatedAt 由用户 id（雪花）反推，JoinedAt 来自网关
type MemberJoinEvent struct {
	GuildID          int64
	UserID           int64
	AccountCreatedAt time.Time
	JoinedAt         time.Time
}

// MemberLeaveEvent 成员离开事件
type MemberLeaveEvent struct {
	GuildID int64
	UserID  int64
}

// EntryInteraction 抽奖报名按钮交互事件，只携带消息 id
type EntryInteraction struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
	UserID    int64
}

// InviteChangeEvent 邀请码创建或删除，触发快照重建
type InviteChangeEvent struct {
	GuildID int64
	Code    string
}

func (*MemberJoinEvent) isEvent()   {}
func (*MemberLeaveEvent) isEvent()  {}
func (*EntryInteraction) isEvent()  {}
func (*InviteChangeEvent) isEvent() {}

// platformEpoch 平台雪花 id 的起始毫秒时间戳
const platformEpoch int64 = 1420070400000

// SnowflakeTime 从雪花 id 反推账号创建时间
func SnowflakeTime(id int64) time.Time {
	ms := (id >> 22) + platformEpoch
	return time.UnixMilli(ms).UTC()
}
