package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wfunc/simon-game/internal/flow"
	"github.com/wfunc/simon-game/internal/service"
	"go.uber.org/zap"
)

// RelayScores 把首页成绩列表的变化广播给所有客户端
func (h *Hub) RelayScores(ctx context.Context, sub *flow.Subscription[service.HomeState]) <-chan struct{} {
	return relay(ctx, h, sub, MessageTypeScores, func(s service.HomeState) bool { return s.Loaded })
}

// RelayBestScores 把排行榜的变化广播给所有客户端
func (h *Hub) RelayBestScores(ctx context.Context, sub *flow.Subscription[service.BestScoresState]) <-chan struct{} {
	return relay(ctx, h, sub, MessageTypeBestScores, func(s service.BestScoresState) bool { return s.Loaded })
}

// relay 转发订阅到的状态，未加载完成的状态不广播
func relay[T any](ctx context.Context, h *Hub, sub *flow.Subscription[T], msgType string, loaded func(T) bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case state, ok := <-sub.C():
				if !ok {
					return
				}
				if !loaded(state) {
					continue
				}
				data, err := json.Marshal(state)
				if err != nil {
					h.logger.Error("序列化成绩列表失败", zap.String("type", msgType), zap.Error(err))
					continue
				}
				h.Broadcast(&Message{
					Type:      msgType,
					Data:      data,
					Timestamp: time.Now().UnixMilli(),
				})
			}
		}
	}()
	return done
}
