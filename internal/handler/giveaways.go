package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invite-giveaway-system/internal/models"
	"invite-giveaway-system/internal/platform"
	"invite-giveaway-system/internal/scheduler"
	"invite-giveaway-system/internal/service"
)

// GiveawayHandler 抽奖管理接口
type GiveawayHandler struct {
	giveawaySvc *service.GiveawayService
	sweeper     *scheduler.GiveawaySweeper
	messenger   platform.Messenger
}

func NewGiveawayHandler(giveawaySvc *service.GiveawayService, sweeper *scheduler.GiveawaySweeper, messenger platform.Messenger) *GiveawayHandler {
	return &GiveawayHandler{
		giveawaySvc: giveawaySvc,
		sweeper:     sweeper,
		messenger:   messenger,
	}
}

type createGiveawayRequest struct {
	GuildID         int64  `json:"guild_id"`
	HostID          int64  `json:"host_id"`
	ChannelID       int64  `json:"channel_id"`
	Prize           string `json:"prize"`
	Winners         int    `json:"winners"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CreateGiveaway 创建抽奖
// 先在目标频道发出活动消息拿到消息 id，再落库为 active 行；
// winners 与时长的合法性在这里校验，引擎不再重复校验
func (h *GiveawayHandler) CreateGiveaway(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createGiveawayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuildID == 0 || req.HostID == 0 || req.ChannelID == 0 {
		writeError(w, http.StatusBadRequest, "guild_id, host_id and channel_id are required")
		return
	}
	if strings.TrimSpace(req.Prize) == "" {
		writeError(w, http.StatusBadRequest, "prize is required")
		return
	}
	if req.Winners < 1 {
		writeError(w, http.StatusBadRequest, "winners must be at least 1")
		return
	}
	if req.DurationMinutes < 1 {
		writeError(w, http.StatusBadRequest, "duration_minutes must be at least 1")
		return
	}

	endTime := time.Now().UTC().Add(time.Duration(req.DurationMinutes) * time.Minute)

	content := fmt.Sprintf("🎉 **GIVEAWAY** 🎉\nPrize: **%s**\nWinners: %d\nHosted by: <@%d>\nEnds: %s\nPress the button below to enter!",
		req.Prize, req.Winners, req.HostID, endTime.Format(time.RFC1123))
	messageID, err := h.messenger.CreateMessage(r.Context(), req.ChannelID, content)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to post giveaway message: "+err.Error())
		return
	}

	giveaway := &models.Giveaway{
		GuildID:   req.GuildID,
		HostID:    req.HostID,
		Prize:     req.Prize,
		MessageID: messageID,
		ChannelID: req.ChannelID,
		Winners:   req.Winners,
		EndTime:   endTime,
	}
	id, err := h.giveawaySvc.Create(r.Context(), giveaway)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create giveaway: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         id,
		"message_id": messageID,
		"end_time":   endTime.Format(time.RFC3339),
	})
}

func (h *GiveawayHandler) ActiveGiveaways(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	guildID, err := strconv.ParseInt(r.URL.Query().Get("guild_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "guild_id is required")
		return
	}

	giveaways, err := h.giveawaySvc.Active(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list giveaways: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id":  guildID,
		"giveaways": giveaways,
	})
}

// GiveawayAction 单个抽奖的子路由
// /api/giveaways/{id}/entries | /api/giveaways/{id}/end | /api/giveaways/{id}/reroll
func (h *GiveawayHandler) GiveawayAction(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 4 {
		writeError(w, http.StatusBadRequest, "invalid path format, expected /api/giveaways/{id}/{action}")
		return
	}

	giveawayID, err := strconv.ParseInt(pathParts[2], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "giveaway id must be numeric")
		return
	}

	switch pathParts[3] {
	case "entries":
		h.listEntries(w, r, giveawayID)
	case "end":
		h.endGiveaway(w, r, giveawayID)
	case "reroll":
		h.reroll(w, r, giveawayID)
	default:
		writeError(w, http.StatusNotFound, "unknown action: "+pathParts[3])
	}
}

func (h *GiveawayHandler) listEntries(w http.ResponseWriter, r *http.Request, giveawayID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries, err := h.giveawaySvc.Entries(r.Context(), giveawayID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"giveaway_id": giveawayID,
		"count":       len(entries),
		"entries":     entries,
	})
}

// endGiveaway 提前结束并公告，依赖引擎的恰好一次结束语义
func (h *GiveawayHandler) endGiveaway(w http.ResponseWriter, r *http.Request, giveawayID int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resolved, err := h.sweeper.EndNow(r.Context(), giveawayID)
	if errors.Is(err, service.ErrGiveawayEnded) {
		writeError(w, http.StatusConflict, "giveaway already ended")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to end giveaway: "+err.Error())
		return
	}
	if resolved == nil {
		writeError(w, http.StatusNotFound, "giveaway not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"giveaway_id": giveawayID,
		"entries":     resolved.EntryCount,
		"winners":     resolved.Winners,
	})
}

// reroll 在现有报名集合上重抽，不限制抽奖状态
func (h *GiveawayHandler) reroll(w http.ResponseWriter, r *http.Request, giveawayID int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	giveaway, winners, err := h.giveawaySvc.Reroll(r.Context(), giveawayID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reroll: "+err.Error())
		return
	}
	if giveaway == nil {
		writeError(w, http.StatusNotFound, "giveaway not found")
		return
	}

	if len(winners) > 0 {
		content := fmt.Sprintf("🎉 Reroll! New winner(s) for **%s**: %s", giveaway.Prize, scheduler.Mentions(winners))
		if _, err := h.messenger.CreateMessage(r.Context(), giveaway.ChannelID, content); err != nil {
			writeError(w, http.StatusBadGateway, "reroll done but announcement failed: "+err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"giveaway_id": giveawayID,
		"winners":     winners,
	})
}
