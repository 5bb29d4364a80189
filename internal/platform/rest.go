package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"invite-giveaway-system/internal/config"
	"invite-giveaway-system/pkg/errors"
)

// RestClient 平台 REST 接口客户端
// 所有请求都是一次性尝试，失败直接返回给调用方，不做重试
type RestClient struct {
	apiBase string
	token   string
	http    *http.Client
}

func NewRestClient(cfg *config.PlatformConfig) *RestClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10
	}
	return &RestClient{
		apiBase: cfg.APIBase,
		token:   cfg.Token,
		http:    &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

type inviteResponse struct {
	Code    string `json:"code"`
	Uses    int    `json:"uses"`
	MaxUses int    `json:"max_uses"`
	Inviter *struct {
		ID string `json:"id"`
	} `json:"inviter"`
}

type messageResponse struct {
	ID string `json:"id"`
}

// ListGuildInvites 获取 guild 当前有效邀请码及使用次数
func (c *RestClient) ListGuildInvites(ctx context.Context, guildID int64) ([]InviteMeta, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%d/invites", guildID), nil)
	if err != nil {
		return nil, err
	}

	var raw []inviteResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.New(errors.ErrEventParse, "解析邀请码列表失败", err)
	}

	invites := make([]InviteMeta, 0, len(raw))
	for _, inv := range raw {
		meta := InviteMeta{
			Code:    inv.Code,
			Uses:    inv.Uses,
			MaxUses: inv.MaxUses,
		}
		if inv.Inviter != nil {
			meta.InviterID, _ = strconv.ParseInt(inv.Inviter.ID, 10, 64)
		}
		invites = append(invites, meta)
	}
	return invites, nil
}

// CreateMessage 向频道发送一条消息，返回消息 id
func (c *RestClient) CreateMessage(ctx context.Context, channelID int64, content string) (int64, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return 0, err
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/messages", channelID), payload)
	if err != nil {
		return 0, err
	}

	var msg messageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return 0, errors.New(errors.ErrEventParse, "解析消息响应失败", err)
	}
	return strconv.ParseInt(msg.ID, 10, 64)
}

func (c *RestClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrPlatformFetch,
			fmt.Sprintf("请求平台接口失败: %s %s", method, path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.ErrPlatformFetch, "读取平台响应失败", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(errors.ErrPlatformFetch,
			fmt.Sprintf("平台接口返回 %d: %s %s", resp.StatusCode, method, path), nil)
	}
	return body, nil
}
