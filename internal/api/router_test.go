package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/simon-game/internal/config"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/middleware"
	"github.com/wfunc/simon-game/internal/models"
	"github.com/wfunc/simon-game/internal/repository"
	"github.com/wfunc/simon-game/internal/service"
	ws "github.com/wfunc/simon-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *apperrors.AppError `json:"error"`
}

// RouterTestSuite 路由测试套件
type RouterTestSuite struct {
	suite.Suite
	db       *gorm.DB
	cfg      *config.Config
	repo     repository.ScoreRepository
	services *service.Services
	sessions *game.SessionManager
	hub      *ws.Hub
	cancel   context.CancelFunc
	router   *Router
}

func (suite *RouterTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	suite.Require().NoError(err)
	sqlDB, err := db.DB()
	suite.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	suite.Require().NoError(db.AutoMigrate(models.AllModels()...))
	suite.db = db

	cfg, err := config.Load("")
	suite.Require().NoError(err)
	cfg.Security.RateLimit.Enabled = false
	cfg.Game.ScoreListLimit = 5
	suite.cfg = cfg
}

func (suite *RouterTestSuite) TearDownSuite() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *RouterTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM score_records")
	log := zap.NewNop()

	suite.repo = repository.NewScoreRepository(suite.db, log, suite.cfg.Game.ScoreListLimit)
	suite.services = service.NewServices(suite.repo, service.DefaultConfig(), log)
	suite.Require().NoError(suite.services.Scoreboard.Start(context.Background()))

	suite.sessions = game.NewSessionManager(&game.SessionConfig{
		Logger:         log,
		SessionTimeout: time.Minute,
		MaxSessions:    10,
	})
	suite.hub = ws.NewHub(ws.DefaultClientConfig(), log)
	ws.NewGameMessageHandler(suite.hub, suite.sessions, suite.services.Scores, log)

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	go suite.hub.Run(ctx)

	suite.router = NewRouter(&Dependencies{
		DB:       suite.db,
		Services: suite.services,
		Sessions: suite.sessions,
		Hub:      suite.hub,
		Config:   suite.cfg,
		Logger:   log,
	})
}

func (suite *RouterTestSuite) TearDownTest() {
	suite.cancel()
	suite.sessions.CloseAll()
	suite.services.Scoreboard.Stop()
	suite.repo.Close()
}

func (suite *RouterTestSuite) do(req *http.Request) (*httptest.ResponseRecorder, apiResponse) {
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, req)

	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (suite *RouterTestSuite) get(path string) (*httptest.ResponseRecorder, apiResponse) {
	return suite.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (suite *RouterTestSuite) submit(token, name string, picture []byte) (*httptest.ResponseRecorder, apiResponse) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	suite.Require().NoError(mw.WriteField("result_token", token))
	suite.Require().NoError(mw.WriteField("player_name", name))
	if picture != nil {
		fw, err := mw.CreateFormFile("player_picture", "me.png")
		suite.Require().NoError(err)
		_, err = fw.Write(picture)
		suite.Require().NoError(err)
	}
	suite.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scores", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return suite.do(req)
}

func (suite *RouterTestSuite) token(score int) string {
	token, err := suite.services.Scores.IssueResultToken("session-1", score)
	suite.Require().NoError(err)
	return token
}

func testPNG(t require.TestingT) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TestHealth 测试健康检查
func (suite *RouterTestSuite) TestHealth() {
	w, _ := suite.get("/health")
	suite.Equal(http.StatusOK, w.Code)

	var body map[string]interface{}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	suite.Equal("healthy", body["status"])
	suite.Equal(true, body["database"])
	suite.EqualValues(0, body["sessions"])
	suite.NotEmpty(w.Header().Get(middleware.RequestIDHeader))
}

// TestNotFound 测试未知路由
func (suite *RouterTestSuite) TestNotFound() {
	w, resp := suite.get("/api/v1/nothing")
	suite.Equal(http.StatusNotFound, w.Code)
	suite.False(resp.Success)
	suite.Require().NotNil(resp.Error)
	suite.Equal(apperrors.ErrNotFound, resp.Error.Code)
	suite.Empty(resp.Error.Stack)
}

// TestSubmitAndFetch 测试保存成绩后查询列表和照片
func (suite *RouterTestSuite) TestSubmitAndFetch() {
	w, resp := suite.submit(suite.token(7), "Pierre", testPNG(suite.T()))
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	suite.True(resp.Success)

	var view service.ScoreView
	suite.Require().NoError(json.Unmarshal(resp.Data, &view))
	suite.Equal(7, view.Score)
	suite.True(view.HasPicture)

	w, _ = suite.get(view.PictureURL)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal("image/jpeg", w.Header().Get("Content-Type"))
	suite.Contains(w.Header().Get("Cache-Control"), "public")
	suite.Contains(w.Header().Get("Cache-Control"), fmt.Sprintf("max-age=%d", int(PictureCacheAge.Seconds())))

	w, resp = suite.get("/api/v1/scores/best")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Contains(w.Header().Get("Cache-Control"), "no-store")
	var best []service.ScoreView
	suite.Require().NoError(json.Unmarshal(resp.Data, &best))
	suite.Require().Len(best, 1)
	suite.Equal("Pierre", best[0].PlayerName)

	// 首页状态由实时视图更新
	suite.Eventually(func() bool {
		_, resp := suite.get("/api/v1/home")
		var home service.HomeState
		if err := json.Unmarshal(resp.Data, &home); err != nil {
			return false
		}
		return home.Loaded && len(home.Games) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSubmitRejections 测试保存成绩失败的情况
func (suite *RouterTestSuite) TestSubmitRejections() {
	suite.Run("空白名称", func() {
		w, resp := suite.submit(suite.token(3), "   ", nil)
		suite.Equal(http.StatusBadRequest, w.Code)
		suite.Equal(apperrors.ErrInvalidPlayerName, resp.Error.Code)
	})

	suite.Run("无效令牌", func() {
		w, resp := suite.submit("not-a-token", "Ada", nil)
		suite.Equal(http.StatusUnauthorized, w.Code)
		suite.Equal(apperrors.ErrTokenInvalid, resp.Error.Code)
	})

	suite.Run("无效照片", func() {
		w, resp := suite.submit(suite.token(3), "Ada", []byte("not an image"))
		suite.Equal(http.StatusBadRequest, w.Code)
		suite.Equal(apperrors.ErrInvalidPicture, resp.Error.Code)
	})

	suite.Run("照片不存在", func() {
		w, resp := suite.get("/api/v1/scores/999/picture")
		suite.Equal(http.StatusNotFound, w.Code)
		suite.Equal(apperrors.ErrNotFound, resp.Error.Code)

		w, _ = suite.get("/api/v1/scores/abc/picture")
		suite.Equal(http.StatusBadRequest, w.Code)
	})
}

// TestListLimit 测试列表数量参数
func (suite *RouterTestSuite) TestListLimit() {
	for i := 1; i <= 7; i++ {
		w, _ := suite.submit(suite.token(i), fmt.Sprintf("p%d", i), nil)
		suite.Require().Equal(http.StatusCreated, w.Code)
	}

	cases := []struct {
		query string
		want  int
	}{
		{"", 5},
		{"?limit=2", 2},
		{"?limit=100", 5},
	}
	for _, tc := range cases {
		w, resp := suite.get("/api/v1/scores/latest" + tc.query)
		suite.Require().Equal(http.StatusOK, w.Code)
		var views []service.ScoreView
		suite.Require().NoError(json.Unmarshal(resp.Data, &views))
		suite.Len(views, tc.want, tc.query)
	}

	w, _ := suite.get("/api/v1/scores/best?limit=-1")
	suite.Equal(http.StatusBadRequest, w.Code)
	w, _ = suite.get("/api/v1/scores/best?limit=x")
	suite.Equal(http.StatusBadRequest, w.Code)

	w, resp := suite.get("/api/v1/scores/best?limit=1")
	suite.Require().Equal(http.StatusOK, w.Code)
	var best []service.ScoreView
	suite.Require().NoError(json.Unmarshal(resp.Data, &best))
	suite.Require().Len(best, 1)
	suite.Equal(7, best[0].Score)
}

// TestShare 测试分享文案
func (suite *RouterTestSuite) TestShare() {
	w, resp := suite.get("/api/v1/share?score=12")
	suite.Require().Equal(http.StatusOK, w.Code)
	var data map[string]string
	suite.Require().NoError(json.Unmarshal(resp.Data, &data))
	suite.Equal(game.ShareText(12), data["text"])

	w, _ = suite.get("/api/v1/share?score=-3")
	suite.Equal(http.StatusBadRequest, w.Code)
}

// TestWebSocketUpgrade 测试WebSocket连接
func (suite *RouterTestSuite) TestWebSocketUpgrade() {
	server := httptest.NewServer(suite.router.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + suite.cfg.WebSocket.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	suite.Require().NoError(err)
	defer conn.Close()

	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var msg ws.Message
	suite.Require().NoError(conn.ReadJSON(&msg))
	suite.Equal(ws.MessageTypeConnected, msg.Type)

	suite.Eventually(func() bool {
		w, resp := suite.get("/api/v1/online")
		if w.Code != http.StatusOK {
			return false
		}
		var data map[string]int
		return json.Unmarshal(resp.Data, &data) == nil && data["online"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestRateLimitedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg, err := config.Load("")
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	repo := repository.NewScoreRepository(db, zap.NewNop(), 10)
	defer repo.Close()

	router := NewRouter(&Dependencies{
		DB:       db,
		Services: service.NewServices(repo, nil, nil),
		Sessions: game.NewSessionManager(&game.SessionConfig{MaxSessions: 1}),
		Hub:      ws.NewHub(ws.DefaultClientConfig(), nil),
		RateLimiter: middleware.NewRateLimiter(config.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 1,
			Burst:             1,
		}, nil),
		Config: cfg,
	})

	serve := func(path string) int {
		w := httptest.NewRecorder()
		router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve("/api/v1/share?score=1"))
	assert.Equal(t, http.StatusTooManyRequests, serve("/api/v1/share?score=1"))
	// 健康检查不受限流影响
	assert.Equal(t, http.StatusOK, serve("/health"))
}
