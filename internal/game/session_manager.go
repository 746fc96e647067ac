package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionManager 游戏会话管理器
type SessionManager struct {
	mu             sync.RWMutex
	sessions       map[string]*GameSession
	logger         *zap.Logger
	playback       PlaybackConfig
	random         func() RandomSource
	sessionTimeout time.Duration
	maxSessions    int
}

// GameSession 游戏会话，每个会话拥有独立的回合控制器
type GameSession struct {
	SessionID  string
	Controller *RoundController
	StartTime  time.Time

	mu           sync.RWMutex
	lastActivity time.Time
}

// SessionConfig 会话管理器配置
type SessionConfig struct {
	Logger         *zap.Logger
	Playback       PlaybackConfig
	SessionTimeout time.Duration
	MaxSessions    int
	// NewRandom 为每个会话创建随机数来源，默认使用加密随机数
	NewRandom func() RandomSource
}

// NewSessionManager 创建会话管理器
func NewSessionManager(config *SessionConfig) *SessionManager {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	newRandom := config.NewRandom
	if newRandom == nil {
		newRandom = func() RandomSource { return NewCryptoRandomSource() }
	}

	return &SessionManager{
		sessions:       make(map[string]*GameSession),
		logger:         log,
		playback:       config.Playback,
		random:         newRandom,
		sessionTimeout: config.SessionTimeout,
		maxSessions:    config.MaxSessions,
	}
}

// CreateSession 创建新会话
func (sm *SessionManager) CreateSession(ctx context.Context, feedback Feedback, onGameOver GameOverFunc) (*GameSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// 检查会话数量限制
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, ErrSessionLimit
	}

	sessionID := uuid.New().String()
	controller := NewRoundController(RoundConfig{
		SessionID:  sessionID,
		Random:     sm.random(),
		Playback:   sm.playback,
		Feedback:   feedback,
		Logger:     sm.logger,
		OnGameOver: onGameOver,
	})

	now := time.Now()
	session := &GameSession{
		SessionID:    sessionID,
		Controller:   controller,
		StartTime:    now,
		lastActivity: now,
	}
	sm.sessions[sessionID] = session

	sm.logger.Info("创建游戏会话", zap.String("session_id", sessionID))

	return session, nil
}

// GetSession 获取会话并刷新活动时间
func (sm *SessionManager) GetSession(sessionID string) (*GameSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	session.UpdateActivity()
	return session, nil
}

// RemoveSession 移除会话并关闭其回合控制器
func (sm *SessionManager) RemoveSession(sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}

	session.Controller.Close()

	sm.logger.Info("移除游戏会话",
		zap.String("session_id", sessionID),
		zap.Int("level", session.Controller.State().Level),
		zap.Duration("duration", time.Since(session.StartTime)))

	return nil
}

// CleanupInactiveSessions 清理不活跃的会话，返回清理数量
func (sm *SessionManager) CleanupInactiveSessions() int {
	now := time.Now()

	sm.mu.Lock()
	var expired []*GameSession
	for sessionID, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.sessionTimeout {
			expired = append(expired, session)
			delete(sm.sessions, sessionID)
		}
	}
	sm.mu.Unlock()

	for _, session := range expired {
		session.Controller.Close()
		sm.logger.Info("清理超时会话",
			zap.String("session_id", session.SessionID),
			zap.Duration("inactive", now.Sub(session.LastActivity())))
	}

	return len(expired)
}

// StartCleanupTask 启动清理任务，ctx 结束时退出
func (sm *SessionManager) StartCleanupTask(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				sm.logger.Info("停止会话清理任务")
				return
			case <-ticker.C:
				sm.CleanupInactiveSessions()
			}
		}
	}()
	return done
}

// GetActiveSessions 获取活跃会话数
func (sm *SessionManager) GetActiveSessions() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll 关闭所有会话
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*GameSession)
	sm.mu.Unlock()

	for _, session := range sessions {
		session.Controller.Close()
	}
	sm.logger.Info("已关闭所有游戏会话", zap.Int("count", len(sessions)))
}

// UpdateActivity 更新活动时间
func (gs *GameSession) UpdateActivity() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.lastActivity = time.Now()
}

// LastActivity 最后活动时间
func (gs *GameSession) LastActivity() time.Time {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.lastActivity
}
