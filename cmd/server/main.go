package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/simon-game/internal/api"
	"github.com/wfunc/simon-game/internal/config"
	"github.com/wfunc/simon-game/internal/database"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/logger"
	"github.com/wfunc/simon-game/internal/middleware"
	"github.com/wfunc/simon-game/internal/repository"
	"github.com/wfunc/simon-game/internal/service"
	ws "github.com/wfunc/simon-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 限流器清理参数
const (
	rateLimitCleanupInterval = time.Minute
	rateLimitIdleTimeout     = 10 * time.Minute
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *gorm.DB
	repo        repository.ScoreRepository
	services    *service.Services
	sessions    *game.SessionManager
	hub         *ws.Hub
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	setupSystem(&cfg.System)

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动 Simon 游戏服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "初始化组件失败")
	}
	if err := s.startServices(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.cfg.Server.Addr()),
		zap.String("websocket", s.cfg.WebSocket.Path),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	if err := s.initDatabase(); err != nil {
		return err
	}

	s.repo = repository.NewScoreRepository(s.db, logger.GetModuleLogger("repository"), s.cfg.Game.ScoreListLimit)

	token := s.cfg.Security.ResultToken
	svcConfig := service.DefaultConfig()
	svcConfig.TokenSecret = token.Secret
	svcConfig.TokenExpiry = token.Expiry
	svcConfig.TokenIssuer = token.Issuer
	s.services = service.NewServices(s.repo, svcConfig, logger.GetModuleLogger("service"))

	s.sessions = game.NewSessionManager(&game.SessionConfig{
		Logger: logger.GetModuleLogger("game"),
		Playback: game.PlaybackConfig{
			LeadIn:   s.cfg.Game.LeadInDelay,
			Interval: s.cfg.Game.SignalInterval,
		},
		SessionTimeout: s.cfg.Game.SessionTimeout,
		MaxSessions:    s.cfg.Game.MaxSessions,
	})

	wsLogger := logger.GetModuleLogger("websocket")
	s.hub = ws.NewHub(ws.ClientConfigFrom(&s.cfg.WebSocket), wsLogger)
	ws.NewGameMessageHandler(s.hub, s.sessions, s.services.Scores, wsLogger)

	if s.cfg.Security.RateLimit.Enabled {
		s.rateLimiter = middleware.NewRateLimiter(s.cfg.Security.RateLimit, logger.GetModuleLogger("ratelimit"))
	}

	if s.cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(&api.Dependencies{
		DB:          s.db,
		Services:    s.services,
		Sessions:    s.sessions,
		Hub:         s.hub,
		RateLimiter: s.rateLimiter,
		Config:      s.cfg,
		Logger:      logger.GetModuleLogger("api"),
	})

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	dbLogger := logger.GetModuleLogger("database")

	db, err := database.Open(&s.cfg.Database, dbLogger)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	s.db = db

	if s.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db, &s.cfg.Database, dbLogger); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseMigrate, "数据库迁移失败")
		}
	}

	if !database.IsConnected(s.ctx, db) {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	if err := s.services.Scoreboard.Start(s.ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	s.track(s.hub.RelayScores(s.ctx, s.services.Scoreboard.SubscribeHome()))
	s.track(s.hub.RelayBestScores(s.ctx, s.services.Scoreboard.SubscribeBest()))
	s.track(s.sessions.StartCleanupTask(s.ctx, s.cfg.Game.CleanupInterval))
	if s.rateLimiter != nil {
		s.track(s.rateLimiter.StartCleanupTask(s.ctx, rateLimitCleanupInterval, rateLimitIdleTimeout))
	}

	ln := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ln <- err
		}
	}()

	// 端口被占用等错误会立即返回
	select {
	case err := <-ln:
		return apperrors.Wrapf(err, apperrors.ErrUnknown, "监听 %s 失败", s.httpServer.Addr)
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// track 等待后台任务退出
func (s *Server) track(done <-chan struct{}) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-done
	}()
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 取消主上下文，触发所有goroutine退出
	s.cancel()
	s.sessions.CloseAll()
	s.services.Scoreboard.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return apperrors.New(apperrors.ErrTimeout, "关闭超时")
	}

	s.repo.Close()
	if err := database.Close(s.db); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
	return nil
}

// reloadConfig 重新加载配置，只有日志级别支持热更新
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("Simon 游戏服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
