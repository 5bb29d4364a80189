package service

import (
	"context"
	"math/rand"
	"time"

	"invite-giveaway-system/internal/models"
	"invite-giveaway-system/internal/repository"
	"invite-giveaway-system/pkg/errors"
	"invite-giveaway-system/pkg/logger"
)

// ErrGiveawayEnded 对已结束抽奖做写操作时返回的哨兵错误
var ErrGiveawayEnded = errors.New(errors.ErrGiveawayUpdate, "抽奖已结束", nil)

// EntryResult 报名切换的两种结果
type EntryResult string

const (
	EntryEntered EntryResult = "entered"
	EntryLeft    EntryResult = "left"
)

// ResolvedGiveaway 一次开奖结果
// Winners 为空与有获奖者是两种都合法的结局，调用方必须分别处理
type ResolvedGiveaway struct {
	Giveaway   models.Giveaway
	Winners    []int64
	EntryCount int
}

// GiveawayService 抽奖生命周期引擎
type GiveawayService struct {
	giveawayRepo repository.GiveawayRepository
	entryRepo    repository.EntryRepository
}

func NewGiveawayService(giveawayRepo repository.GiveawayRepository, entryRepo repository.EntryRepository) *GiveawayService {
	return &GiveawayService{
		giveawayRepo: giveawayRepo,
		entryRepo:    entryRepo,
	}
}

// Create 持久化一个新的 active 抽奖，返回 id
// winners >= 1 与 end_time 在未来由 HTTP 边界校验
func (s *GiveawayService) Create(ctx context.Context, giveaway *models.Giveaway) (int64, error) {
	id, err := s.giveawayRepo.Create(ctx, giveaway)
	if err != nil {
		return 0, errors.New(errors.ErrGiveawayUpdate, "创建抽奖失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"giveaway_id": id,
		"guild_id":    giveaway.GuildID,
		"prize":       giveaway.Prize,
		"winners":     giveaway.Winners,
		"end_time":    giveaway.EndTime,
	}).Info("抽奖已创建")
	return id, nil
}

func (s *GiveawayService) GetByID(ctx context.Context, id int64) (*models.Giveaway, error) {
	return s.giveawayRepo.GetByID(ctx, id)
}

func (s *GiveawayService) GetByMessage(ctx context.Context, messageID int64) (*models.Giveaway, error) {
	return s.giveawayRepo.GetByMessage(ctx, messageID)
}

func (s *GiveawayService) Active(ctx context.Context, guildID int64) ([]models.Giveaway, error) {
	return s.giveawayRepo.ActiveByGuild(ctx, guildID)
}

// ToggleEntry 报名切换：未报名则报名，已报名则退出
// 抽奖已结束时拒绝并返回 ErrGiveawayEnded，不产生任何状态变化。
// 前置的状态读取只是快速拒绝，真正的防线在写入语句自身的
// status 条件上：检查之后被并发扫描结束的抽奖，写入不会落地
func (s *GiveawayService) ToggleEntry(ctx context.Context, giveawayID, userID int64) (EntryResult, error) {
	giveaway, err := s.giveawayRepo.GetByID(ctx, giveawayID)
	if err != nil {
		return "", errors.New(errors.ErrGiveawayUpdate, "查询抽奖失败", err)
	}
	if giveaway == nil || giveaway.Status == models.GiveawayStatusEnded {
		return "", ErrGiveawayEnded
	}

	entered, err := s.entryRepo.Exists(ctx, giveawayID, userID)
	if err != nil {
		return "", errors.New(errors.ErrGiveawayUpdate, "查询报名状态失败", err)
	}

	if entered {
		removed, err := s.entryRepo.DeleteIfActive(ctx, giveawayID, userID)
		if err != nil {
			return "", errors.New(errors.ErrGiveawayUpdate, "退出报名失败", err)
		}
		if !removed {
			return "", ErrGiveawayEnded
		}
		return EntryLeft, nil
	}

	added, err := s.entryRepo.InsertIfActive(ctx, giveawayID, userID)
	if err != nil {
		return "", errors.New(errors.ErrGiveawayUpdate, "报名失败", err)
	}
	if !added {
		return "", ErrGiveawayEnded
	}
	return EntryEntered, nil
}

func (s *GiveawayService) EntryCount(ctx context.Context, giveawayID int64) (int, error) {
	return s.entryRepo.Count(ctx, giveawayID)
}

func (s *GiveawayService) Entries(ctx context.Context, giveawayID int64) ([]int64, error) {
	return s.entryRepo.List(ctx, giveawayID)
}

// SelectWinners 不放回均匀抽样，最多 min(requested, len(entries)) 个
func SelectWinners(entries []int64, requested int) []int64 {
	if requested > len(entries) {
		requested = len(entries)
	}
	if requested <= 0 {
		return nil
	}

	winners := make([]int64, 0, requested)
	for _, idx := range rand.Perm(len(entries))[:requested] {
		winners = append(winners, entries[idx])
	}
	return winners
}

// Close 把抽奖原子地置为 ended
// 返回本次调用是否完成了流转；并发的两次 Close 恰有一次返回 true
func (s *GiveawayService) Close(ctx context.Context, giveawayID int64) (bool, error) {
	transitioned, err := s.giveawayRepo.MarkEnded(ctx, giveawayID)
	if err != nil {
		return false, errors.New(errors.ErrGiveawayUpdate, "结束抽奖失败", err)
	}
	return transitioned, nil
}

// Sweep 扫描所有到期的 active 抽奖并开奖
// 依赖 Close 的原子流转，同一个抽奖在并发扫描下只会被解决一次，
// 因此可以在每个定时 tick 上直接调用而无需外部去重
func (s *GiveawayService) Sweep(ctx context.Context, now time.Time) ([]ResolvedGiveaway, error) {
	expired, err := s.giveawayRepo.FindExpired(ctx, now)
	if err != nil {
		return nil, errors.New(errors.ErrGiveawayUpdate, "扫描到期抽奖失败", err)
	}

	var resolved []ResolvedGiveaway
	for _, giveaway := range expired {
		transitioned, err := s.Close(ctx, giveaway.ID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"giveaway_id": giveaway.ID,
				"error":       err.Error(),
			}).Error("结束抽奖失败，跳过")
			continue
		}
		if !transitioned {
			// 已被其他调用结束，开奖权不在本次
			continue
		}

		result, err := s.resolve(ctx, giveaway)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"giveaway_id": giveaway.ID,
				"error":       err.Error(),
			}).Error("开奖失败")
			continue
		}
		resolved = append(resolved, *result)
	}

	return resolved, nil
}

// EndEarly 立即结束单个抽奖，等价于对它单独执行一次扫描
// 已结束时返回 ErrGiveawayEnded
func (s *GiveawayService) EndEarly(ctx context.Context, giveawayID int64) (*ResolvedGiveaway, error) {
	giveaway, err := s.giveawayRepo.GetByID(ctx, giveawayID)
	if err != nil {
		return nil, errors.New(errors.ErrGiveawayUpdate, "查询抽奖失败", err)
	}
	if giveaway == nil {
		return nil, nil
	}

	transitioned, err := s.Close(ctx, giveawayID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return nil, ErrGiveawayEnded
	}

	return s.resolve(ctx, *giveaway)
}

// Reroll 在现有报名集合上重新抽取，不改动报名与状态，结束后也可调用
func (s *GiveawayService) Reroll(ctx context.Context, giveawayID int64) (*models.Giveaway, []int64, error) {
	giveaway, err := s.giveawayRepo.GetByID(ctx, giveawayID)
	if err != nil {
		return nil, nil, errors.New(errors.ErrGiveawayUpdate, "查询抽奖失败", err)
	}
	if giveaway == nil {
		return nil, nil, nil
	}

	entries, err := s.entryRepo.List(ctx, giveawayID)
	if err != nil {
		return nil, nil, errors.New(errors.ErrGiveawayUpdate, "读取报名失败", err)
	}

	return giveaway, SelectWinners(entries, giveaway.Winners), nil
}

func (s *GiveawayService) resolve(ctx context.Context, giveaway models.Giveaway) (*ResolvedGiveaway, error) {
	entries, err := s.entryRepo.List(ctx, giveaway.ID)
	if err != nil {
		return nil, errors.New(errors.ErrGiveawayUpdate, "读取报名失败", err)
	}

	giveaway.Status = models.GiveawayStatusEnded
	result := &ResolvedGiveaway{
		Giveaway:   giveaway,
		Winners:    SelectWinners(entries, giveaway.Winners),
		EntryCount: len(entries),
	}

	logger.WithFields(map[string]interface{}{
		"giveaway_id": giveaway.ID,
		"entries":     result.EntryCount,
		"winners":     len(result.Winners),
	}).Info("抽奖已开奖")
	return result, nil
}
