package service

import (
	"context"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/models"
	"gorm.io/gorm"
)

// PresenceService 是在线状态的唯一事实来源，状态与 User 存在同一张表。
// 写操作只允许连接网关（以及登出流程）调用，消息路由从不改动在线状态。
type PresenceService struct {
	db *gorm.DB
}

func NewPresenceService(db *gorm.DB) *PresenceService {
	return &PresenceService{db: db}
}

func (s *PresenceService) SetOnline(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("is_online", true).Error
}

// SetOffline 置离线并写入 last_seen，返回写入的时间戳供离线广播使用。
func (s *PresenceService) SetOffline(ctx context.Context, userID uint) (time.Time, error) {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": false, "last_seen": now}).Error
	return now, err
}

type PresenceStatus struct {
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Status 批量查询一组用户的在线状态，供用户目录等读侧使用。
func (s *PresenceService) Status(ctx context.Context, userIDs []uint) (map[uint]PresenceStatus, error) {
	out := make(map[uint]PresenceStatus, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Select("id", "is_online", "last_seen").
		Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = PresenceStatus{IsOnline: u.IsOnline, LastSeen: u.LastSeen}
	}
	return out, nil
}
