package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	Avatar       string `gorm:"size:512"`
	IsOnline     bool   `gorm:"not null;default:false"`
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message 的 Content 存储密文（格式 ivHex:cipherHex），明文只在传输和内存中出现。
type Message struct {
	ID         uint      `gorm:"primaryKey"`
	SenderID   uint      `gorm:"index:idx_msg_pair,priority:1;not null"`
	ReceiverID uint      `gorm:"index:idx_msg_pair,priority:2;not null"`
	Content    string    `gorm:"type:text;not null"`
	IsRead     bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"index:idx_msg_pair,priority:3"`
}

// RefreshToken 按 token 值唯一索引，刷新时只校验不轮换；登出时按用户整体删除。
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:512;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}
