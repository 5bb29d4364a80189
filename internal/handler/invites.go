package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"invite-giveaway-system/internal/platform"
	"invite-giveaway-system/internal/service"
)

// InviteHandler 台账查询与管理接口
type InviteHandler struct {
	ledgerSvc      *service.LedgerService
	attributionSvc *service.AttributionService
	lister         platform.InviteLister
}

func NewInviteHandler(ledgerSvc *service.LedgerService, attributionSvc *service.AttributionService, lister platform.InviteLister) *InviteHandler {
	return &InviteHandler{
		ledgerSvc:      ledgerSvc,
		attributionSvc: attributionSvc,
		lister:         lister,
	}
}

// GetInvites 查询单个用户的邀请统计
// 路径格式 /api/invites/{guild_id}/{user_id}
func (h *InviteHandler) GetInvites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 4 {
		writeError(w, http.StatusBadRequest, "invalid path format, expected /api/invites/{guild_id}/{user_id}")
		return
	}

	guildID, err1 := strconv.ParseInt(pathParts[2], 10, 64)
	userID, err2 := strconv.ParseInt(pathParts[3], 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "guild_id and user_id must be numeric")
		return
	}

	stats, err := h.ledgerSvc.GetUserInvites(r.Context(), userID, guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get invites: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id": guildID,
		"user_id":  userID,
		"invites":  stats,
	})
}

func (h *InviteHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	guildID, err := strconv.ParseInt(r.URL.Query().Get("guild_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "guild_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	entries, err := h.ledgerSvc.Leaderboard(r.Context(), guildID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get leaderboard: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id":    guildID,
		"leaderboard": entries,
	})
}

// ListCodes 列出 guild 下已跟踪的邀请码及其归属与使用数
func (h *InviteHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	guildID, err := strconv.ParseInt(r.URL.Query().Get("guild_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "guild_id is required")
		return
	}

	codes, err := h.attributionSvc.TrackedCodes(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list invite codes: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id": guildID,
		"codes":    codes,
	})
}

type claimsRequest struct {
	GuildID int64  `json:"guild_id"`
	UserID  int64  `json:"user_id"`
	Amount  int    `json:"amount"`
	Op      string `json:"op"`
}

// UpdateClaims 增减用户的可领取数
// amount 必须为正数，扣减在存储层钳制为不小于 0
func (h *InviteHandler) UpdateClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req claimsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuildID == 0 || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "guild_id and user_id are required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	var err error
	switch req.Op {
	case "add":
		err = h.ledgerSvc.AddClaims(r.Context(), req.UserID, req.GuildID, req.Amount)
	case "remove":
		err = h.ledgerSvc.RemoveClaims(r.Context(), req.UserID, req.GuildID, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "op must be add or remove")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update claims: "+err.Error())
		return
	}

	stats, err := h.ledgerSvc.GetUserInvites(r.Context(), req.UserID, req.GuildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read back invites: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invites": stats})
}

type bonusRequest struct {
	GuildID int64 `json:"guild_id"`
	UserID  int64 `json:"user_id"`
	Amount  int   `json:"amount"`
}

func (h *InviteHandler) AddBonus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req bonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuildID == 0 || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "guild_id and user_id are required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := h.ledgerSvc.AddBonus(r.Context(), req.UserID, req.GuildID, req.Amount); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add bonus: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type syncRequest struct {
	GuildID int64 `json:"guild_id"`
}

// SyncInvites 运维手工触发的历史补账
// 从平台拉取当前邀请码使用数，与台账差值补入 total，
// 流失数按启发式估算，结果不可当作精确值
func (h *InviteHandler) SyncInvites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuildID == 0 {
		writeError(w, http.StatusBadRequest, "guild_id is required")
		return
	}

	invites, err := h.lister.ListGuildInvites(r.Context(), req.GuildID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch invites from platform: "+err.Error())
		return
	}

	data := make(map[string]service.SyncEntry, len(invites))
	for _, inv := range invites {
		data[inv.Code] = service.SyncEntry{InviterID: inv.InviterID, Uses: inv.Uses}
	}

	synced, err := h.ledgerSvc.SyncHistorical(r.Context(), req.GuildID, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "historical sync failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id": req.GuildID,
		"synced":   synced,
	})
}
