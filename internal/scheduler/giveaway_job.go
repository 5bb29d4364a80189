package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"invite-giveaway-system/internal/platform"
	"invite-giveaway-system/internal/service"
	"invite-giveaway-system/pkg/logger"
)

// GiveawaySweeper 定时扫描到期抽奖并公告开奖结果
// 每个 tick 都可以安全执行：重复结算由 Close 的原子流转挡住，
// 这里不做任何额外去重
type GiveawaySweeper struct {
	cron        *cron.Cron
	giveawaySvc *service.GiveawayService
	messenger   platform.Messenger
	cronExpr    string
}

func NewGiveawaySweeper(giveawaySvc *service.GiveawayService, messenger platform.Messenger, cronExpr string) *GiveawaySweeper {
	return &GiveawaySweeper{
		cron:        cron.New(cron.WithSeconds()),
		giveawaySvc: giveawaySvc,
		messenger:   messenger,
		cronExpr:    cronExpr,
	}
}

func (s *GiveawaySweeper) Start() error {
	_, err := s.cron.AddFunc(s.cronExpr, s.sweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	logger.Info("Giveaway sweep scheduler started")
	return nil
}

func (s *GiveawaySweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Giveaway sweep scheduler stopped")
}

func (s *GiveawaySweeper) sweep() {
	ctx := context.Background()

	resolved, err := s.giveawaySvc.Sweep(ctx, time.Now().UTC())
	if err != nil {
		logger.Error("Giveaway sweep failed:", err)
		return
	}

	for i := range resolved {
		s.Announce(ctx, &resolved[i])
	}
}

// EndNow 立即结束单个抽奖并公告，供管理接口调用
// 与定时扫描共用同一套恰好一次的结束语义
func (s *GiveawaySweeper) EndNow(ctx context.Context, giveawayID int64) (*service.ResolvedGiveaway, error) {
	resolved, err := s.giveawaySvc.EndEarly(ctx, giveawayID)
	if err != nil || resolved == nil {
		return nil, err
	}

	s.Announce(ctx, resolved)
	return resolved, nil
}

// Announce 发送开奖公告
// 公告失败只记日志，不回滚已结束的状态
func (s *GiveawaySweeper) Announce(ctx context.Context, resolved *service.ResolvedGiveaway) {
	var content string
	if len(resolved.Winners) == 0 {
		content = fmt.Sprintf("🎉 **%s** has ended! No one entered this giveaway.", resolved.Giveaway.Prize)
	} else {
		content = fmt.Sprintf("🎉 Congratulations %s! You won **%s**! Hosted by <@%d>.",
			Mentions(resolved.Winners), resolved.Giveaway.Prize, resolved.Giveaway.HostID)
	}

	if _, err := s.messenger.CreateMessage(ctx, resolved.Giveaway.ChannelID, content); err != nil {
		logger.WithFields(map[string]interface{}{
			"giveaway_id": resolved.Giveaway.ID,
			"channel_id":  resolved.Giveaway.ChannelID,
			"error":       err.Error(),
		}).Error("发送开奖公告失败")
	}
}

// Mentions 拼接用户提及串
func Mentions(userIDs []int64) string {
	mentions := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		mentions = append(mentions, fmt.Sprintf("<@%d>", id))
	}
	return strings.Join(mentions, " ")
}
