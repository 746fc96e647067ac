package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/logger"
	"github.com/wfunc/simon-game/internal/repository"
	"github.com/wfunc/simon-game/internal/utils"
	"go.uber.org/zap"
)

// MaxPlayerNameLength 玩家名称最大长度（字符）
const MaxPlayerNameLength = 100

// scoreService 成绩服务实现
type scoreService struct {
	repo   repository.ScoreRepository
	tokens *utils.ResultTokenManager
	mapper *viewMapper
	used   *usedTokens
	log    *zap.Logger
}

// NewScoreService 创建成绩服务
func NewScoreService(
	repo repository.ScoreRepository,
	tokens *utils.ResultTokenManager,
	pictureURLFmt string,
	log *zap.Logger,
) ScoreService {
	if log == nil {
		log = zap.NewNop()
	}
	return &scoreService{
		repo:   repo,
		tokens: tokens,
		mapper: newViewMapper(pictureURLFmt),
		used:   newUsedTokens(),
		log:    log,
	}
}

// IssueResultToken 签发成绩令牌
func (s *scoreService) IssueResultToken(sessionID string, score int) (string, error) {
	if score < 0 {
		return "", apperrors.Newf(apperrors.ErrInvalidScore, "score=%d", score)
	}
	token, err := s.tokens.Generate(sessionID, score)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrUnknown, "签发成绩令牌失败")
	}
	return token, nil
}

// Submit 保存成绩
func (s *scoreService) Submit(ctx context.Context, req *SubmitScoreRequest) (*ScoreView, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam)
	}

	claims, err := s.tokens.Validate(req.ResultToken)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return nil, apperrors.Wrap(err, apperrors.ErrTokenExpired)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrTokenInvalid)
	}

	name := strings.TrimSpace(req.PlayerName)
	if utf8.RuneCountInString(name) > MaxPlayerNameLength {
		return nil, apperrors.Newf(apperrors.ErrInvalidPlayerName, "名称不能超过%d个字符", MaxPlayerNameLength)
	}

	form := game.NewResultForm(claims.Score, s.repo)
	form.SetPlayerName(name)

	if req.Picture != nil {
		img, err := game.DecodePicture(req.Picture)
		switch {
		case errors.Is(err, game.ErrNoPicture):
		case err != nil:
			return nil, apperrors.Wrap(err, apperrors.ErrInvalidPicture)
		default:
			form.TakePictureResult(img)
		}
	}

	expiresAt := time.Now().Add(s.tokens.Expiry())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	// 先占用令牌，防止并发重复提交
	if !s.used.claim(claims.ID, expiresAt) {
		return nil, apperrors.New(apperrors.ErrTokenUsed)
	}

	log := logger.WithRequestID(ctx, s.log)
	record, err := form.Save(ctx)
	if err != nil {
		s.used.release(claims.ID)
		if errors.Is(err, game.ErrBlankPlayerName) {
			return nil, game.ToAppError(err)
		}
		log.Error("保存成绩失败",
			zap.String("session_id", claims.SessionID),
			zap.Int("score", claims.Score),
			zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	log.Info("成绩已保存",
		zap.Uint("id", record.ID),
		zap.String("session_id", claims.SessionID),
		zap.Int("score", record.Score),
		zap.Bool("has_picture", record.HasPicture()))

	view := s.mapper.one(*record)
	return &view, nil
}

// BestScores 最佳成绩
func (s *scoreService) BestScores(ctx context.Context, limit int) ([]ScoreView, error) {
	records, err := s.repo.FindAllOrderedByScore(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return s.mapper.many(records), nil
}

// LatestScores 最近成绩
func (s *scoreService) LatestScores(ctx context.Context, limit int) ([]ScoreView, error) {
	records, err := s.repo.FindAllOrderedByLatest(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return s.mapper.many(records), nil
}

// GetPicture 获取成绩照片，没有照片返回 ErrNotFound
func (s *scoreService) GetPicture(ctx context.Context, id uint) ([]byte, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrScoreNotFound) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "score %d", id)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if !record.HasPicture() {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "score %d has no picture", id)
	}
	return record.PlayerPicture, nil
}

// usedTokens 记录已使用的令牌ID，过期后清理
type usedTokens struct {
	mu  sync.Mutex
	ids map[string]time.Time
	now func() time.Time
}

func newUsedTokens() *usedTokens {
	return &usedTokens{
		ids: make(map[string]time.Time),
		now: time.Now,
	}
}

// claim 占用令牌，已被占用返回 false
func (u *usedTokens) claim(id string, expiresAt time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	for k, exp := range u.ids {
		if now.After(exp) {
			delete(u.ids, k)
		}
	}
	if _, ok := u.ids[id]; ok {
		return false
	}
	u.ids[id] = expiresAt
	return true
}

func (u *usedTokens) release(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.ids, id)
}
