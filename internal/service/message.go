package service

import (
	"context"
	"strings"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/crypto"
	"github.com/AGNIKSAHA/chatApp/internal/models"
	"gorm.io/gorm"
)

// MessageService 是消息路由的持久化半边：校验、加密落库、解密回放。
// 投递本身由网关通过 hub 完成，这里不持有任何连接状态。
type MessageService struct {
	db  *gorm.DB
	key []byte
}

func NewMessageService(db *gorm.DB, key []byte) *MessageService {
	return &MessageService{db: db, key: key}
}

// UserSummary 是事件负载里的用户摘要。
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// MessageDTO 是对外输出的消息数据，Content 为明文。
type MessageDTO struct {
	ID        uint        `json:"id"`
	Sender    UserSummary `json:"sender"`
	Receiver  UserSummary `json:"receiver"`
	Content   string      `json:"content"`
	IsRead    bool        `json:"isRead"`
	CreatedAt time.Time   `json:"createdAt"`
}

func summarize(u models.User) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// Send 校验并持久化一条消息，密文落库，返回携带明文的 DTO。
// 同一发送方到同一接收方的消息按调用顺序落库，不做跨会话排序。
func (s *MessageService) Send(ctx context.Context, senderID, receiverID uint, content string) (*MessageDTO, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if receiverID == 0 {
		return nil, ErrInvalidReceiver
	}

	var sender, receiver models.User
	if err := s.db.WithContext(ctx).First(&sender, senderID).Error; err != nil {
		return nil, ErrUserNotFound
	}
	if err := s.db.WithContext(ctx).First(&receiver, receiverID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	encrypted, err := crypto.Encrypt(s.key, content)
	if err != nil {
		return nil, err
	}
	msg := models.Message{SenderID: senderID, ReceiverID: receiverID, Content: encrypted}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}

	return &MessageDTO{
		ID:        msg.ID,
		Sender:    summarize(sender),
		Receiver:  summarize(receiver),
		Content:   content,
		IsRead:    msg.IsRead,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// ListBetween 返回两个用户之间双向的全部消息，按创建顺序升序，内容已解密。
func (s *MessageService) ListBetween(ctx context.Context, userID, otherID uint) ([]MessageDTO, error) {
	var other models.User
	if err := s.db.WithContext(ctx).First(&other, otherID).Error; err != nil {
		return nil, ErrUserNotFound
	}
	var me models.User
	if err := s.db.WithContext(ctx).First(&me, userID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherID, otherID, userID).
		Order("id asc").Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	summaries := map[uint]UserSummary{userID: summarize(me), otherID: summarize(other)}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:        m.ID,
			Sender:    summaries[m.SenderID],
			Receiver:  summaries[m.ReceiverID],
			Content:   crypto.Decrypt(s.key, m.Content),
			IsRead:    m.IsRead,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// MarkRead 把 senderID 发给 readerID 的未读消息批量置为已读（单向，不可逆）。
func (s *MessageService) MarkRead(ctx context.Context, readerID, senderID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, readerID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// ConversationDTO 是会话列表里的一项：对端用户、最后一条消息和未读数。
type ConversationDTO struct {
	User        ConversationUser `json:"user"`
	LastMessage LastMessage      `json:"lastMessage"`
	UnreadCount int              `json:"unreadCount"`
}

type ConversationUser struct {
	ID       uint      `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type LastMessage struct {
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	IsRead     bool      `json:"isRead"`
	IsSentByMe bool      `json:"isSentByMe"`
}

// Conversations 按对端用户聚合消息，返回按最后一条消息时间倒序的会话摘要。
func (s *MessageService) Conversations(ctx context.Context, userID uint) ([]ConversationDTO, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("id desc").Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// 消息已按新到旧排列，首次遇到的对端即为该会话的最后一条消息。
	order := make([]uint, 0)
	latest := make(map[uint]models.Message)
	unread := make(map[uint]int)
	for _, m := range msgs {
		peerID := m.SenderID
		if m.SenderID == userID {
			peerID = m.ReceiverID
		}
		if _, ok := latest[peerID]; !ok {
			latest[peerID] = m
			order = append(order, peerID)
		}
		if m.SenderID == peerID && !m.IsRead {
			unread[peerID]++
		}
	}

	users := make(map[uint]models.User, len(order))
	if len(order) > 0 {
		var rows []models.User
		if err := s.db.WithContext(ctx).Where("id IN ?", order).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, u := range rows {
			users[u.ID] = u
		}
	}

	out := make([]ConversationDTO, 0, len(order))
	for _, peerID := range order {
		peer, ok := users[peerID]
		if !ok {
			continue
		}
		m := latest[peerID]
		out = append(out, ConversationDTO{
			User: ConversationUser{
				ID:       peer.ID,
				Username: peer.Username,
				Avatar:   peer.Avatar,
				IsOnline: peer.IsOnline,
				LastSeen: peer.LastSeen,
			},
			LastMessage: LastMessage{
				Content:    crypto.Decrypt(s.key, m.Content),
				CreatedAt:  m.CreatedAt,
				IsRead:     m.IsRead,
				IsSentByMe: m.SenderID == userID,
			},
			UnreadCount: unread[peerID],
		})
	}
	return out, nil
}
