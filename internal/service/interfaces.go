package service

import (
	"context"
	"io"

	"github.com/wfunc/simon-game/internal/flow"
)

// ScoreService 成绩服务接口
type ScoreService interface {
	// IssueResultToken 为结束的对局签发一次性成绩令牌
	IssueResultToken(sessionID string, score int) (string, error)
	// Submit 校验令牌并保存成绩
	Submit(ctx context.Context, req *SubmitScoreRequest) (*ScoreView, error)

	// 查询
	BestScores(ctx context.Context, limit int) ([]ScoreView, error)
	LatestScores(ctx context.Context, limit int) ([]ScoreView, error)
	GetPicture(ctx context.Context, id uint) ([]byte, error)
}

// ScoreboardService 首页与排行榜的实时视图
type ScoreboardService interface {
	Start(ctx context.Context) error
	Home() HomeState
	Best() BestScoresState
	SubscribeHome() *flow.Subscription[HomeState]
	SubscribeBest() *flow.Subscription[BestScoresState]
	Stop()
}

// SubmitScoreRequest 成绩提交请求
type SubmitScoreRequest struct {
	ResultToken string
	PlayerName  string
	Picture     io.Reader // 可为空
}

// ScoreView 对外展示的成绩
type ScoreView struct {
	ID         uint   `json:"id"`
	Score      int    `json:"score"`
	PlayerName string `json:"player_name"`
	HasPicture bool   `json:"has_picture"`
	PictureURL string `json:"picture_url,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// HomeState 首页状态：最近的成绩
type HomeState struct {
	Loaded bool        `json:"loaded"`
	Games  []ScoreView `json:"games"`
}

// BestScoresState 排行榜状态
type BestScoresState struct {
	Loaded bool        `json:"loaded"`
	Games  []ScoreView `json:"games"`
}
