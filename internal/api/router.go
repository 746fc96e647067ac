package api

import (
	"net/http"
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/wfunc/simon-game/internal/config"
	"github.com/wfunc/simon-game/internal/database"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/middleware"
	"github.com/wfunc/simon-game/internal/service"
	ws "github.com/wfunc/simon-game/internal/websocket"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由依赖
type Dependencies struct {
	DB          *gorm.DB
	Services    *service.Services
	Sessions    *game.SessionManager
	Hub         *ws.Hub
	RateLimiter *middleware.RateLimiter // 为空时不限流
	Config      *config.Config
	Logger      *zap.Logger
}

// Router API路由器
type Router struct {
	engine       *gin.Engine
	deps         *Dependencies
	scoreHandler *ScoreHandler
	wsHandler    *WebSocketHandler
	log          *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps *Dependencies) *Router {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.Recovery(log))
	engine.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedExtensions([]string{".svg", ".ico", ".png", ".jpg", ".jpeg", ".gif"}),
		ginGzip.WithExcludedPaths([]string{cfg.WebSocket.Path})))

	router := &Router{
		engine: engine,
		deps:   deps,
		scoreHandler: NewScoreHandler(
			deps.Services.Scores,
			deps.Services.Scoreboard,
			cfg.Game.ScoreListLimit,
			cfg.Server.MaxUploadSize,
			log,
		),
		wsHandler: NewWebSocketHandler(deps.Hub, &cfg.WebSocket, log),
		log:       log,
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	noStore := cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})
	immutable := cachecontrol.New(cachecontrol.Config{
		Public: true,
		MaxAge: cachecontrol.Duration(PictureCacheAge),
	})

	// 健康检查
	r.engine.GET("/health", noStore, r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	if r.deps.RateLimiter != nil {
		v1.Use(r.deps.RateLimiter.Middleware())
	}
	{
		v1.GET("/home", noStore, r.scoreHandler.Home)
		v1.GET("/share", r.scoreHandler.Share)
		v1.GET("/online", noStore, r.wsHandler.GetOnlineCount)

		scores := v1.Group("/scores")
		{
			scores.GET("/best", noStore, r.scoreHandler.BestScores)
			scores.GET("/latest", noStore, r.scoreHandler.LatestScores)
			scores.POST("", r.scoreHandler.Submit)
			scores.GET("/:id/picture", immutable, r.scoreHandler.Picture)
		}
	}

	// WebSocket路由
	r.engine.GET(r.deps.Config.WebSocket.Path, r.wsHandler.GameWebSocket)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, apperrors.New(apperrors.ErrNotFound, "接口不存在"))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	dbOK := r.deps.DB != nil && database.IsConnected(c.Request.Context(), r.deps.DB)

	status, code := "healthy", http.StatusOK
	if !dbOK {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"database":  dbOK,
		"sessions":  r.deps.Sessions.GetActiveSessions(),
		"online":    r.deps.Hub.GetOnlineCount(),
		"timestamp": time.Now().Unix(),
	})
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
