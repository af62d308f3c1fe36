package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/auth"
	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/metrics"
	"github.com/AGNIKSAHA/chatApp/internal/models"
	"github.com/AGNIKSAHA/chatApp/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway 负责实时连接的认证、频道绑定、事件分发与断开清理。
// 在线标记和 last_seen 只在这里写，消息路由不碰在线状态。
type Gateway struct {
	hub         *Hub
	db          *gorm.DB
	cfg         config.Config
	messages    *service.MessageService
	presence    *service.PresenceService
	broadcaster PresenceBroadcaster

	// presMu 把频道成员变更和在线状态写入串成一个原子步骤，
	// 防止同一身份"最后连接下线"与"新连接上线"交错时把在线用户标成离线。
	presMu sync.Mutex
}

func NewGateway(hub *Hub, db *gorm.DB, cfg config.Config, messages *service.MessageService, presence *service.PresenceService, broadcaster PresenceBroadcaster) *Gateway {
	return &Gateway{
		hub:         hub,
		db:          db,
		cfg:         cfg,
		messages:    messages,
		presence:    presence,
		broadcaster: broadcaster,
	}
}

// Serve 处理 /ws。凭证缺失、签名/过期校验失败或身份不存在时在升级前以 401 拒绝，
// 不产生任何在线状态变更和频道绑定。
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		claims, err := auth.ParseToken(token, g.cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		var user models.User
		if err := g.db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(g.hub, conn, user.ID, user.Username)
		metrics.WsConnections.Inc()

		// 同一身份的首个连接才改存储状态并广播上线，后续设备静默加入。
		g.presMu.Lock()
		count := g.hub.Join(client)
		if count == 1 {
			if err := g.presence.SetOnline(context.Background(), user.ID); err != nil {
				log.Error().Err(err).Uint("user_id", user.ID).Msg("presence online")
			}
			g.broadcaster.UserOnline(user.ID)
			metrics.OnlineUsers.Inc()
		}
		g.presMu.Unlock()
		log.Info().Uint("user_id", user.ID).Str("username", user.Username).Msg("ws connected")

		go client.writePump()
		g.readPump(client)
	}
}

// teardown 在读泵退出时执行一次：关闭连接、解除频道绑定；
// 只有该身份最后一个连接断开时才置离线、写 last_seen 并广播下线事件。
func (g *Gateway) teardown(c *Client) {
	c.Close()
	g.presMu.Lock()
	if remaining := g.hub.Leave(c); remaining == 0 {
		lastSeen, err := g.presence.SetOffline(context.Background(), c.userID)
		if err != nil {
			log.Error().Err(err).Uint("user_id", c.userID).Msg("presence offline")
		}
		g.broadcaster.UserOffline(c.userID, lastSeen)
		metrics.OnlineUsers.Dec()
	}
	g.presMu.Unlock()
	log.Info().Uint("user_id", c.userID).Str("username", c.username).Msg("ws disconnected")
}

// readPump 顺序消费单条连接的事件流，连接之间互不阻塞。
func (g *Gateway) readPump(c *Client) {
	defer g.teardown(c)
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(c, "invalid event")
			continue
		}
		switch env.Event {
		case EventMessageSend:
			g.handleSend(c, env.Data)
		case EventTypingStart, EventTypingStop:
			g.relayTyping(c, env.Event, env.Data)
		default:
			// 未知事件静默忽略，保持对旧客户端的兼容。
		}
	}
}

// handleSend 走完整的路由路径：校验、加密落库、向收发双方的连接扇出。
func (g *Gateway) handleSend(c *Client, raw json.RawMessage) {
	var data sendMessageData
	if err := json.Unmarshal(raw, &data); err != nil {
		g.sendError(c, "invalid payload")
		return
	}
	dto, err := g.messages.Send(context.Background(), c.userID, data.ReceiverID, data.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			g.sendError(c, "message content is required")
		case errors.Is(err, service.ErrInvalidReceiver), errors.Is(err, service.ErrUserNotFound):
			g.sendError(c, "invalid receiver ID")
		default:
			log.Error().Err(err).Uint("sender_id", c.userID).Msg("send message")
			g.sendError(c, "failed to send message")
		}
		return
	}
	metrics.MessagesSent.Inc()

	// 接收方在线就投递，不在线时落库记录是唯一痕迹，由历史接口补偿。
	if b, err := marshalEvent(EventMessageReceive, dto); err == nil {
		if g.hub.SendToUser(dto.Receiver.ID, b) {
			metrics.MessagesDelivered.Inc()
		}
	}
	// 独立向发送方全部连接回执，发送方 UI 不必等历史刷新。
	if b, err := marshalEvent(EventMessageSent, dto); err == nil {
		g.hub.SendToUser(c.userID, b)
	}
}

// relayTyping 纯转发：不落库、不校验接收方存在性，对方不在线时静默丢弃。
func (g *Gateway) relayTyping(c *Client, event string, raw json.RawMessage) {
	var data typingData
	if err := json.Unmarshal(raw, &data); err != nil || data.ReceiverID == 0 {
		return
	}
	if b, err := marshalEvent(event, typingEvent{UserID: c.userID}); err == nil {
		g.hub.SendToUser(data.ReceiverID, b)
		metrics.TypingEvents.Inc()
	}
}

// sendError 只回给出错的连接本身，永不广播。
func (g *Gateway) sendError(c *Client, msg string) {
	if b, err := marshalEvent(EventError, errorEvent{Message: msg}); err == nil {
		c.enqueue(b)
	}
}
