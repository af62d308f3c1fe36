package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/AGNIKSAHA/chatApp/internal/auth"
	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg     config.Config
	userSvc *service.UserService
	msgSvc  *service.MessageService
}

func NewHandler(cfg config.Config, userSvc *service.UserService, msgSvc *service.MessageService) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, msgSvc: msgSvc}
}

// Signup 处理注册请求，成功后直接下发令牌 cookie。
func (h *Handler) Signup(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Email) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Signup(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("signup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	auth.SetAuthCookies(c, h.cfg, result.AccessToken, result.RefreshToken)
	c.JSON(http.StatusCreated, gin.H{"message": "signup successful", "user": result.User})
}

// Login 处理登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	auth.SetAuthCookies(c, h.cfg, result.AccessToken, result.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "user": result.User})
}

// Refresh 用刷新令牌 cookie 换新的访问令牌 cookie，刷新令牌本身不轮换。
func (h *Handler) Refresh(c *gin.Context) {
	refreshToken, err := c.Cookie(auth.RefreshTokenCookie)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token required"})
		return
	}
	accessToken, err := h.userSvc.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		log.Error().Err(err).Msg("refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	auth.SetAccessCookie(c, h.cfg, accessToken)
	c.JSON(http.StatusOK, gin.H{"message": "token refreshed"})
}

// Logout 删除该用户全部刷新令牌并清理 cookie，所有设备一起登出。
func (h *Handler) Logout(c *gin.Context) {
	userID := auth.GetUserID(c)
	if err := h.userSvc.Logout(c.Request.Context(), userID); err != nil {
		log.Error().Err(err).Uint("user_id", userID).Msg("logout")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	auth.ClearAuthCookies(c, h.cfg)
	c.JSON(http.StatusOK, gin.H{"message": "logout successful"})
}

// Profile 返回当前用户信息。
func (h *Handler) Profile(c *gin.Context) {
	user, err := h.userSvc.Profile(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Msg("profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ListUsers 返回除当前用户外的全部用户，带在线状态。
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.List(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func pathUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ListMessages 返回当前用户与指定用户之间的全部消息，内容已解密。
func (h *Handler) ListMessages(c *gin.Context) {
	otherID, ok := pathUserID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	msgs, err := h.msgSvc.ListBetween(c.Request.Context(), auth.GetUserID(c), otherID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Uint("other_id", otherID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead 把指定用户发给当前用户的未读消息批量置为已读。
func (h *Handler) MarkRead(c *gin.Context) {
	senderID, ok := pathUserID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if _, err := h.msgSvc.MarkRead(c.Request.Context(), auth.GetUserID(c), senderID); err != nil {
		log.Error().Err(err).Uint("sender_id", senderID).Msg("mark read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "messages marked as read"})
}

// ListConversations 返回会话摘要列表。
func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.msgSvc.Conversations(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}
