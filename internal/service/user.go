package service

import (
	"context"
	"errors"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/auth"
	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/models"
	"gorm.io/gorm"
)

// UserService 封装账号相关的业务逻辑：注册、登录、令牌刷新与登出。
type UserService struct {
	db       *gorm.DB
	cfg      config.Config
	presence *PresenceService
}

func NewUserService(db *gorm.DB, cfg config.Config, presence *PresenceService) *UserService {
	return &UserService{db: db, cfg: cfg, presence: presence}
}

// UserDTO 是对外输出的用户数据，永不包含密码散列。
type UserDTO struct {
	ID       uint      `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Avatar   string    `json:"avatar,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

func sanitize(u models.User) UserDTO {
	return UserDTO{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

// AuthResult 注册或登录成功后返回的令牌对与用户数据。
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	User         UserDTO
}

func (s *UserService) issueTokens(ctx context.Context, user models.User) (*AuthResult, error) {
	at, err := auth.GenerateAccessToken(user.ID, user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken(user.ID, user.Username, s.cfg.RefreshTokenSecret, s.cfg.RefreshTokenTTLDays)
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(ctx, s.db, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &AuthResult{AccessToken: at, RefreshToken: rt, User: sanitize(user)}, nil
}

// Signup 创建新账号并直接签发令牌对。
func (s *UserService) Signup(ctx context.Context, username, email, password string) (*AuthResult, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

// Login 校验邮箱密码并签发令牌对。
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokens(ctx, user)
}

// Refresh 校验刷新令牌（签名有效且命中存储，二者缺一不可）后只签发新的访问令牌。
// 刷新令牌本身不轮换，失败时调用方必须重新完整认证。
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := auth.ParseToken(refreshToken, s.cfg.RefreshTokenSecret)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	rec, err := auth.LookupRefreshToken(ctx, s.db, refreshToken)
	if err != nil || rec.UserID != claims.UserID {
		return "", ErrInvalidRefreshToken
	}
	return auth.GenerateAccessToken(claims.UserID, claims.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
}

// Logout 置离线、写 last_seen，并删除该用户全部刷新令牌（所有设备一起失效）。
func (s *UserService) Logout(ctx context.Context, userID uint) error {
	if _, err := s.presence.SetOffline(ctx, userID); err != nil {
		return err
	}
	return auth.RevokeUserTokens(ctx, s.db, userID)
}

// Profile 返回当前用户数据。
func (s *UserService) Profile(ctx context.Context, userID uint) (*UserDTO, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	dto := sanitize(user)
	return &dto, nil
}

// List 返回除调用者以外的全部用户，带在线状态，供会话目录使用。
func (s *UserService) List(ctx context.Context, exceptID uint) ([]UserDTO, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id <> ?", exceptID).Order("username asc").Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, sanitize(u))
	}
	return out, nil
}
