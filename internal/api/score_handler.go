package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/middleware"
	"github.com/wfunc/simon-game/internal/service"
	"go.uber.org/zap"
)

// PictureCacheAge 成绩照片缓存时间，照片保存后不会再变
const PictureCacheAge = 24 * time.Hour

// ScoreHandler 成绩处理器
type ScoreHandler struct {
	scores        service.ScoreService
	scoreboard    service.ScoreboardService
	listLimit     int
	maxUploadSize int64
	log           *zap.Logger
}

// NewScoreHandler 创建成绩处理器
func NewScoreHandler(scores service.ScoreService, scoreboard service.ScoreboardService, listLimit int, maxUploadSize int64, log *zap.Logger) *ScoreHandler {
	if listLimit <= 0 {
		listLimit = 50
	}
	if maxUploadSize <= 0 {
		maxUploadSize = 5 << 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ScoreHandler{
		scores:        scores,
		scoreboard:    scoreboard,
		listLimit:     listLimit,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

// Home 首页最近成绩
func (h *ScoreHandler) Home(c *gin.Context) {
	respondOK(c, http.StatusOK, h.scoreboard.Home())
}

// BestScores 最佳成绩列表
func (h *ScoreHandler) BestScores(c *gin.Context) {
	limit, err := h.parseLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	views, err := h.scores.BestScores(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, views)
}

// LatestScores 最近成绩列表
func (h *ScoreHandler) LatestScores(c *gin.Context) {
	limit, err := h.parseLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	views, err := h.scores.LatestScores(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, views)
}

// Submit 保存成绩
// multipart 字段: result_token, player_name, player_picture(可选)
func (h *ScoreHandler) Submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	if err := c.Request.ParseMultipartForm(h.maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam, "表单解析失败"))
		return
	}

	req := &service.SubmitScoreRequest{
		ResultToken: c.PostForm("result_token"),
		PlayerName:  c.PostForm("player_name"),
	}

	fh, err := c.FormFile("player_picture")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidPicture))
		return
	default:
		f, err := fh.Open()
		if err != nil {
			respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidPicture))
			return
		}
		defer f.Close()
		req.Picture = f
	}

	view, err := h.scores.Submit(c.Request.Context(), req)
	if err != nil {
		h.log.Warn("保存成绩被拒绝",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, view)
}

// Picture 成绩照片（JPEG）
func (h *ScoreHandler) Picture(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, apperrors.Newf(apperrors.ErrInvalidParam, "id=%s", c.Param("id")))
		return
	}
	data, err := h.scores.GetPicture(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Share 分享文案
func (h *ScoreHandler) Share(c *gin.Context) {
	score, err := strconv.Atoi(c.Query("score"))
	if err != nil || score < 0 {
		respondError(c, apperrors.Newf(apperrors.ErrInvalidScore, "score=%s", c.Query("score")))
		return
	}
	respondOK(c, http.StatusOK, gin.H{"text": game.ShareText(score)})
}

// parseLimit 解析 limit 参数，缺省为配置值，超过上限按上限处理
func (h *ScoreHandler) parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return h.listLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "limit=%s", raw)
	}
	return lo.Clamp(limit, 1, h.listLimit), nil
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError 非 AppError 统一按未知错误处理
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}
	middleware.AbortWithError(c, appErr)
}
