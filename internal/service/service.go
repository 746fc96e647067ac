package service

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/wfunc/simon-game/internal/models"
	"github.com/wfunc/simon-game/internal/repository"
	"github.com/wfunc/simon-game/internal/utils"
	"go.uber.org/zap"
)

// Config 服务配置
type Config struct {
	TokenSecret   string
	TokenExpiry   time.Duration
	TokenIssuer   string
	PictureURLFmt string // 例如 /api/v1/scores/%d/picture
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		TokenSecret:   "change-me-in-production",
		TokenExpiry:   15 * time.Minute,
		TokenIssuer:   "simon-game",
		PictureURLFmt: "/api/v1/scores/%d/picture",
	}
}

// Services 服务集合
type Services struct {
	Scores     ScoreService
	Scoreboard ScoreboardService
}

// NewServices 创建服务集合
func NewServices(repo repository.ScoreRepository, config *Config, log *zap.Logger) *Services {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	tokens := utils.NewResultTokenManager(config.TokenSecret, config.TokenExpiry, config.TokenIssuer)
	return &Services{
		Scores:     NewScoreService(repo, tokens, config.PictureURLFmt, log),
		Scoreboard: NewScoreboardService(repo, config.PictureURLFmt, log),
	}
}

// viewMapper 将成绩记录转换为展示结构
type viewMapper struct {
	pictureURLFmt string
}

func newViewMapper(pictureURLFmt string) *viewMapper {
	return &viewMapper{pictureURLFmt: pictureURLFmt}
}

func (m *viewMapper) one(record models.ScoreRecord) ScoreView {
	view := ScoreView{
		ID:         record.ID,
		Score:      record.Score,
		PlayerName: record.PlayerName,
		HasPicture: record.HasPicture(),
		Timestamp:  record.Timestamp,
	}
	if view.HasPicture && m.pictureURLFmt != "" {
		view.PictureURL = fmt.Sprintf(m.pictureURLFmt, record.ID)
	}
	return view
}

func (m *viewMapper) many(records []models.ScoreRecord) []ScoreView {
	return lo.Map(records, func(r models.ScoreRecord, _ int) ScoreView {
		return m.one(r)
	})
}
