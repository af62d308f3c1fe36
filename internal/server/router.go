package server

import (
	"net/http"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/auth"
	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/crypto"
	"github.com/AGNIKSAHA/chatApp/internal/metrics"
	"github.com/AGNIKSAHA/chatApp/internal/mw"
	"github.com/AGNIKSAHA/chatApp/internal/service"
	"github.com/AGNIKSAHA/chatApp/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.ClientOrigin))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	key := crypto.NewKey(cfg.MessageEncryptionKey)
	presenceSvc := service.NewPresenceService(db)
	msgSvc := service.NewMessageService(db, key)
	userSvc := service.NewUserService(db, cfg, presenceSvc)
	h := NewHandler(cfg, userSvc, msgSvc)
	gateway := ws.NewGateway(hub, db, cfg, msgSvc, presenceSvc, ws.NewPresenceBroadcaster(hub))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)

	// 需要有效访问令牌的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.POST("/auth/logout", h.Logout)
	authed.GET("/auth/profile", h.Profile)
	authed.GET("/users", h.ListUsers)
	authed.GET("/messages/:userId", h.ListMessages)
	authed.PUT("/messages/:userId/read", h.MarkRead)
	authed.GET("/conversations", h.ListConversations)

	r.GET("/ws", gateway.Serve())

	return r
}
