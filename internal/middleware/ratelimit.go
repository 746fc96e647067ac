package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/simon-game/internal/config"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端IP限流
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	log     *zap.Logger
	now     func() time.Time
}

// NewRateLimiter 创建限流器，requestsPerMinute <= 0 时按每分钟1次处理
func NewRateLimiter(cfg config.RateLimitConfig, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(time.Minute / time.Duration(rpm)),
		burst:   burst,
		log:     log,
		now:     time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, ok := rl.entries[key]; ok {
		e.lastSeen = rl.now()
		return e.limiter
	}
	if key == "" {
		rl.log.Warn("限流键为空")
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.entries[key] = &limiterEntry{limiter: lim, lastSeen: rl.now()}
	return lim
}

// Allow 判断该键的请求是否放行
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

// Middleware gin 中间件，超限返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.Allow(ip) {
			rl.log.Warn("请求频率超限", zap.String("client_ip", ip), zap.String("path", c.Request.URL.Path))
			AbortWithError(c, apperrors.New(apperrors.ErrRateLimitExceeded))
			return
		}
		c.Next()
	}
}

// Cleanup 清理超过 idle 未活动的客户端，返回清理数量
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	removed := 0
	for key, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanupTask 定期清理空闲客户端，ctx 取消后退出
func (rl *RateLimiter) StartCleanupTask(ctx context.Context, interval, idle time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rl.Cleanup(idle); n > 0 {
					rl.log.Debug("清理空闲限流器", zap.Int("count", n))
				}
			}
		}
	}()
	return done
}

// Size 当前跟踪的客户端数量
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}
