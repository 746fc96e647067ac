package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	applog "github.com/wfunc/simon-game/internal/logger"
	"github.com/wfunc/simon-game/internal/models"
	"github.com/wfunc/simon-game/internal/repository"
	"github.com/wfunc/simon-game/internal/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ScoreServiceTestSuite 成绩服务测试套件
type ScoreServiceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	repo     repository.ScoreRepository
	services *Services
}

// SetupSuite 设置测试套件
func (suite *ScoreServiceTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(suite.T(), err)
	sqlDB, err := db.DB()
	require.NoError(suite.T(), err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(suite.T(), db.AutoMigrate(models.AllModels()...))
	suite.db = db
}

// TearDownSuite 关闭数据库
func (suite *ScoreServiceTestSuite) TearDownSuite() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// SetupTest 每个测试前执行
func (suite *ScoreServiceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM score_records")
	suite.repo = repository.NewScoreRepository(suite.db, zap.NewNop(), 10)
	suite.services = NewServices(suite.repo, DefaultConfig(), zap.NewNop())
}

// TearDownTest 每个测试后执行
func (suite *ScoreServiceTestSuite) TearDownTest() {
	suite.services.Scoreboard.Stop()
	suite.repo.Close()
}

func (suite *ScoreServiceTestSuite) token(score int) string {
	token, err := suite.services.Scores.IssueResultToken("session-1", score)
	suite.Require().NoError(err)
	return token
}

func pngPicture(t require.TestingT) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 180, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TestSubmitWithPicture 测试带照片提交
func (suite *ScoreServiceTestSuite) TestSubmitWithPicture() {
	ctx := context.Background()

	view, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{
		ResultToken: suite.token(12),
		PlayerName:  "  Pierre ",
		Picture:     bytes.NewReader(pngPicture(suite.T())),
	})
	suite.Require().NoError(err)
	suite.Equal(12, view.Score)
	suite.Equal("Pierre", view.PlayerName)
	suite.True(view.HasPicture)
	suite.Equal(fmt.Sprintf("/api/v1/scores/%d/picture", view.ID), view.PictureURL)

	blob, err := suite.services.Scores.GetPicture(ctx, view.ID)
	suite.Require().NoError(err)
	img, err := game.DecodePicture(bytes.NewReader(blob))
	suite.Require().NoError(err)
	suite.Equal(8, img.Bounds().Dx())
}

// TestSubmitLogsRequestID 测试提交日志带上请求ID
func (suite *ScoreServiceTestSuite) TestSubmitLogsRequestID() {
	core, logs := observer.New(zapcore.InfoLevel)
	services := NewServices(suite.repo, DefaultConfig(), zap.New(core))
	token, err := services.Scores.IssueResultToken("session-2", 5)
	suite.Require().NoError(err)

	ctx := applog.ContextWithRequestID(context.Background(), "req-42")
	_, err = services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: token, PlayerName: "Eve"})
	suite.Require().NoError(err)

	saved := logs.FilterMessage("成绩已保存").All()
	suite.Require().Len(saved, 1)
	suite.Equal("req-42", saved[0].ContextMap()["request_id"])
}

// TestSubmitWithoutPicture 测试不带照片提交
func (suite *ScoreServiceTestSuite) TestSubmitWithoutPicture() {
	ctx := context.Background()

	view, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{
		ResultToken: suite.token(3),
		PlayerName:  "Bob",
		Picture:     bytes.NewReader(nil),
	})
	suite.Require().NoError(err)
	suite.False(view.HasPicture)
	suite.Empty(view.PictureURL)

	_, err = suite.services.Scores.GetPicture(ctx, view.ID)
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))

	_, err = suite.services.Scores.GetPicture(ctx, 9999)
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

// TestTokenSingleUse 测试令牌只能使用一次
func (suite *ScoreServiceTestSuite) TestTokenSingleUse() {
	ctx := context.Background()
	token := suite.token(5)

	_, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: token, PlayerName: "Ada"})
	suite.Require().NoError(err)

	_, err = suite.services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: token, PlayerName: "Ada"})
	suite.True(apperrors.Is(err, apperrors.ErrTokenUsed))

	records, err := suite.repo.FindAllOrderedByLatest(ctx, 0)
	suite.Require().NoError(err)
	suite.Len(records, 1)
}

// TestSubmitRejections 测试各种拒绝情况
func (suite *ScoreServiceTestSuite) TestSubmitRejections() {
	ctx := context.Background()

	suite.Run("无效令牌", func() {
		_, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: "garbage", PlayerName: "A"})
		suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))
	})

	suite.Run("过期令牌", func() {
		expired := utils.NewResultTokenManager("change-me-in-production", -time.Minute, "simon-game")
		token, err := expired.Generate("s", 1)
		suite.Require().NoError(err)
		_, err = suite.services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: token, PlayerName: "A"})
		suite.True(apperrors.Is(err, apperrors.ErrTokenExpired))
	})

	suite.Run("空白名称不消耗令牌", func() {
		token := suite.token(2)
		_, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: token, PlayerName: "   "})
		suite.True(apperrors.Is(err, apperrors.ErrInvalidPlayerName))

		_, err = suite.services.Scores.Submit(ctx, &SubmitScoreRequest{ResultToken: token, PlayerName: "Eve"})
		suite.NoError(err)
	})

	suite.Run("名称过长", func() {
		_, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{
			ResultToken: suite.token(2),
			PlayerName:  strings.Repeat("x", MaxPlayerNameLength+1),
		})
		suite.True(apperrors.Is(err, apperrors.ErrInvalidPlayerName))
	})

	suite.Run("无效照片", func() {
		_, err := suite.services.Scores.Submit(ctx, &SubmitScoreRequest{
			ResultToken: suite.token(2),
			PlayerName:  "Zed",
			Picture:     strings.NewReader("not an image"),
		})
		suite.True(apperrors.Is(err, apperrors.ErrInvalidPicture))
	})

	suite.Run("负分", func() {
		_, err := suite.services.Scores.IssueResultToken("s", -1)
		suite.True(apperrors.Is(err, apperrors.ErrInvalidScore))
	})
}

// TestScoreLists 测试排序查询
func (suite *ScoreServiceTestSuite) TestScoreLists() {
	ctx := context.Background()
	for i, score := range []int{4, 9, 1} {
		suite.Require().NoError(suite.repo.Insert(ctx, &models.ScoreRecord{
			Score:      score,
			PlayerName: "p",
			Timestamp:  int64(1000 + i),
		}))
	}

	best, err := suite.services.Scores.BestScores(ctx, 0)
	suite.Require().NoError(err)
	suite.Equal([]int{9, 4, 1}, scoresOf(best))

	latest, err := suite.services.Scores.LatestScores(ctx, 2)
	suite.Require().NoError(err)
	suite.Equal([]int{1, 9}, scoresOf(latest))
}

// TestScoreboard 测试实时视图
func (suite *ScoreServiceTestSuite) TestScoreboard() {
	ctx := context.Background()
	board := suite.services.Scoreboard
	suite.False(board.Home().Loaded)

	suite.Require().NoError(board.Start(ctx))
	suite.Require().NoError(board.Start(ctx))
	suite.Eventually(func() bool { return board.Home().Loaded && board.Best().Loaded }, time.Second, time.Millisecond)
	suite.Empty(board.Home().Games)

	sub := board.SubscribeBest()
	defer sub.Close()

	suite.Require().NoError(suite.repo.Insert(ctx, &models.ScoreRecord{Score: 2, PlayerName: "a", Timestamp: 1}))
	suite.Require().NoError(suite.repo.Insert(ctx, &models.ScoreRecord{Score: 7, PlayerName: "b", Timestamp: 2}))

	suite.Eventually(func() bool { return len(board.Best().Games) == 2 }, time.Second, time.Millisecond)
	suite.Equal([]int{7, 2}, scoresOf(board.Best().Games))
	suite.Eventually(func() bool { return len(board.Home().Games) == 2 }, time.Second, time.Millisecond)
	suite.Equal([]int{7, 2}, scoresOf(board.Home().Games), "最近的在前")

	board.Stop()
	for range sub.C() {
	}
	suite.Error(board.Start(ctx))
}

func scoresOf(views []ScoreView) []int {
	out := make([]int, 0, len(views))
	for _, v := range views {
		out = append(out, v.Score)
	}
	return out
}

// TestScoreServiceSuite 运行测试套件
func TestScoreServiceSuite(t *testing.T) {
	suite.Run(t, new(ScoreServiceTestSuite))
}

func TestUsedTokensExpire(t *testing.T) {
	u := newUsedTokens()
	now := time.Unix(1000, 0)
	u.now = func() time.Time { return now }

	assert.True(t, u.claim("a", now.Add(time.Minute)))
	assert.False(t, u.claim("a", now.Add(time.Minute)))

	now = now.Add(2 * time.Minute)
	assert.True(t, u.claim("b", now.Add(time.Minute)))
	assert.True(t, u.claim("a", now.Add(time.Minute)), "过期记录被清理")

	u.release("b")
	assert.True(t, u.claim("b", now.Add(time.Minute)))
}
