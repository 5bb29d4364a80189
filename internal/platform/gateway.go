package platform

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"invite-giveaway-system/internal/config"
	"invite-giveaway-system/pkg/errors"
	"invite-giveaway-system/pkg/logger"
)

const (
	opDispatch  = 0
	opHeartbeat = 1
	opIdentify  = 2
	opReconnect = 7
	opHello     = 10
	opAck       = 11

	// guilds + members + messages + message components
	gatewayIntents = 1<<0 | 1<<1 | 1<<9
)

// Gateway 平台事件网关的 websocket 监听器
// 连接断开后按配置间隔重连，事件通过带缓冲的 channel 交给分发循环
type Gateway struct {
	cfg       *config.PlatformConfig
	eventChan chan Event
	stopChan  chan struct{}
}

func NewGateway(cfg *config.PlatformConfig) *Gateway {
	return &Gateway{
		cfg:       cfg,
		eventChan: make(chan Event, 1000),
		stopChan:  make(chan struct{}),
	}
}

func (g *Gateway) Events() <-chan Event {
	return g.eventChan
}

func (g *Gateway) Stop() {
	close(g.stopChan)
}

// Start 维持网关连接直到上下文取消或收到停止信号
func (g *Gateway) Start(ctx context.Context) {
	interval := g.cfg.ReconnectInterval
	if interval <= 0 {
		interval = 5
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("网关监听器已停止：上下文已取消")
			return
		case <-g.stopChan:
			logger.Info("网关监听器已停止：收到停止信号")
			return
		default:
		}

		if err := g.runSession(ctx); err != nil {
			logger.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Error("网关会话中断，准备重连")
		}

		select {
		case <-ctx.Done():
			return
		case <-g.stopChan:
			return
		case <-time.After(time.Duration(interval) * time.Second):
		}
	}
}

type gatewayPayload struct {
	Op int             `json:"op"`
	T  string          `json:"t"`
	S  int64           `json:"s"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// gatewayConn 串行化单个连接上的写入
// 读循环的心跳应答与心跳协程的定时写落在同一个连接上，
// 而 websocket 连接只允许一个并发写者
type gatewayConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *gatewayConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// runSession 执行一次完整会话：hello → identify → 心跳 + 读循环
func (g *Gateway) runSession(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.cfg.GatewayURL, nil)
	if err != nil {
		return errors.New(errors.ErrGatewayConnect, "连接事件网关失败", err)
	}
	defer conn.Close()
	wc := &gatewayConn{conn: conn}

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return errors.New(errors.ErrGatewayConnect, "读取 hello 失败", err)
	}
	if hello.Op != opHello {
		return errors.New(errors.ErrGatewayConnect, "网关首包不是 hello", nil)
	}

	var helloD helloData
	if err := json.Unmarshal(hello.D, &helloD); err != nil {
		return errors.New(errors.ErrEventParse, "解析 hello 失败", err)
	}

	identify := map[string]interface{}{
		"op": opIdentify,
		"d": map[string]interface{}{
			"token":   g.cfg.Token,
			"intents": gatewayIntents,
			"properties": map[string]string{
				"os": "linux", "browser": "invite-giveaway-system", "device": "invite-giveaway-system",
			},
		},
	}
	if err := wc.writeJSON(identify); err != nil {
		return errors.New(errors.ErrGatewayConnect, "发送 identify 失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"heartbeat_ms": helloD.HeartbeatInterval,
	}).Info("网关会话已建立")

	done := make(chan struct{})
	defer close(done)
	go g.heartbeatLoop(wc, time.Duration(helloD.HeartbeatInterval)*time.Millisecond, done)

	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return errors.New(errors.ErrGatewayConnect, "读取网关消息失败", err)
		}

		switch payload.Op {
		case opDispatch:
			g.dispatch(ctx, payload.T, payload.D)
		case opHeartbeat:
			if err := wc.writeJSON(map[string]interface{}{"op": opHeartbeat, "d": nil}); err != nil {
				return err
			}
		case opReconnect:
			return errors.New(errors.ErrGatewayConnect, "网关要求重连", nil)
		case opAck:
			// 心跳确认，无需处理
		}
	}
}

func (g *Gateway) heartbeatLoop(wc *gatewayConn, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := wc.writeJSON(map[string]interface{}{"op": opHeartbeat, "d": nil}); err != nil {
				return
			}
		}
	}
}

type userRef struct {
	ID string `json:"id"`
}

type memberAddData struct {
	GuildID  string  `json:"guild_id"`
	JoinedAt string  `json:"joined_at"`
	User     userRef `json:"user"`
}

type memberRemoveData struct {
	GuildID string  `json:"guild_id"`
	User    userRef `json:"user"`
}

type interactionData struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Message   struct {
		ID string `json:"id"`
	} `json:"message"`
	Member *struct {
		User userRef `json:"user"`
	} `json:"member"`
	Data struct {
		CustomID string `json:"custom_id"`
	} `json:"data"`
}

type inviteChangeData struct {
	GuildID string `json:"guild_id"`
	Code    string `json:"code"`
}

// dispatch 把网关 dispatch 帧翻译为内部事件
// 无法解析的帧记日志丢弃，不中断会话
func (g *Gateway) dispatch(ctx context.Context, eventType string, data json.RawMessage) {
	var event Event

	switch eventType {
	case "GUILD_MEMBER_ADD":
		var d memberAddData
		if err := json.Unmarshal(data, &d); err != nil {
			g.logParseError(eventType, err)
			return
		}
		userID := parseID(d.User.ID)
		joinedAt, err := time.Parse(time.RFC3339, d.JoinedAt)
		if err != nil {
			joinedAt = time.Now().UTC()
		}
		event = &MemberJoinEvent{
			GuildID:          parseID(d.GuildID),
			UserID:           userID,
			AccountCreatedAt: SnowflakeTime(userID),
			JoinedAt:         joinedAt,
		}

	case "GUILD_MEMBER_REMOVE":
		var d memberRemoveData
		if err := json.Unmarshal(data, &d); err != nil {
			g.logParseError(eventType, err)
			return
		}
		event = &MemberLeaveEvent{
			GuildID: parseID(d.GuildID),
			UserID:  parseID(d.User.ID),
		}

	case "INTERACTION_CREATE":
		var d interactionData
		if err := json.Unmarshal(data, &d); err != nil {
			g.logParseError(eventType, err)
			return
		}
		if d.Data.CustomID != "enter_giveaway" || d.Member == nil {
			return
		}
		event = &EntryInteraction{
			GuildID:   parseID(d.GuildID),
			ChannelID: parseID(d.ChannelID),
			MessageID: parseID(d.Message.ID),
			UserID:    parseID(d.Member.User.ID),
		}

	case "INVITE_CREATE", "INVITE_DELETE":
		var d inviteChangeData
		if err := json.Unmarshal(data, &d); err != nil {
			g.logParseError(eventType, err)
			return
		}
		event = &InviteChangeEvent{
			GuildID: parseID(d.GuildID),
			Code:    d.Code,
		}

	default:
		return
	}

	select {
	case g.eventChan <- event:
	case <-ctx.Done():
	case <-g.stopChan:
	}
}

func (g *Gateway) logParseError(eventType string, err error) {
	logger.WithFields(map[string]interface{}{
		"event_type": eventType,
		"error":      err.Error(),
	}).Warn("网关事件解析失败，已丢弃")
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
