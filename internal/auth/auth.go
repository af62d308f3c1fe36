package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// ErrInvalidToken 对调用方不区分"过期"与"被篡改"。
var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	UserID   uint   `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateAccessToken 签发短期访问令牌。访问令牌不落库，有效性只靠签名和过期时间。
func GenerateAccessToken(userID uint, username, secret string, ttlMinutes int) (string, error) {
	return signToken(userID, username, secret, time.Duration(ttlMinutes)*time.Minute)
}

// GenerateRefreshToken 签发长期刷新令牌，由调用方负责落库。
func GenerateRefreshToken(userID uint, username, secret string, ttlDays int) (string, error) {
	return signToken(userID, username, secret, time.Duration(ttlDays)*24*time.Hour)
}

func signToken(userID uint, username, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 校验签名与过期时间，访问令牌和刷新令牌用各自的 secret 调用。
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func SaveRefreshToken(ctx context.Context, db *gorm.DB, userID uint, token string, expiresAt time.Time) error {
	rt := models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return db.WithContext(ctx).Create(&rt).Error
}

// LookupRefreshToken 按 token 值查找未过期的记录；签名校验之外还必须命中存储。
func LookupRefreshToken(ctx context.Context, db *gorm.DB, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&rt).Error
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// RevokeUserTokens 删除用户全部刷新令牌，即多设备同时登出。
func RevokeUserTokens(ctx context.Context, db *gorm.DB, userID uint) error {
	return db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

// DeleteExpired 清理已过期的刷新令牌记录，由定时任务调用。
func DeleteExpired(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}

// TokenFromRequest 先读 accessToken cookie，再回退到 Authorization: Bearer。
func TokenFromRequest(c *gin.Context) string {
	if v, err := c.Cookie(AccessTokenCookie); err == nil && v != "" {
		return v
	}
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

func cookieSameSite(c *gin.Context, env string) bool {
	secure := env != "dev"
	if secure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	return secure
}

// SetAuthCookies 同时下发访问令牌和刷新令牌两个 httpOnly cookie。
func SetAuthCookies(c *gin.Context, cfg config.Config, accessToken, refreshToken string) {
	secure := cookieSameSite(c, cfg.Env)
	c.SetCookie(AccessTokenCookie, accessToken, cfg.AccessTokenTTLMinutes*60, "/", "", secure, true)
	c.SetCookie(RefreshTokenCookie, refreshToken, cfg.RefreshTokenTTLDays*24*3600, "/", "", secure, true)
}

// SetAccessCookie 刷新成功后只更新访问令牌 cookie。
func SetAccessCookie(c *gin.Context, cfg config.Config, accessToken string) {
	secure := cookieSameSite(c, cfg.Env)
	c.SetCookie(AccessTokenCookie, accessToken, cfg.AccessTokenTTLMinutes*60, "/", "", secure, true)
}

func ClearAuthCookies(c *gin.Context, cfg config.Config) {
	secure := cookieSameSite(c, cfg.Env)
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", "", secure, true)
}

// AuthMiddleware 校验访问令牌并把用户信息注入请求上下文。
func AuthMiddleware(cfg config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		claims, err := ParseToken(token, cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set("userID", user.ID)
		c.Set("user", user)
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}
