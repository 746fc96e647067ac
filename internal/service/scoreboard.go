package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/wfunc/simon-game/internal/flow"
	"github.com/wfunc/simon-game/internal/repository"
	"go.uber.org/zap"
)

// scoreboardService 把仓储的实时快照转换为首页与排行榜状态
type scoreboardService struct {
	repo   repository.ScoreRepository
	mapper *viewMapper
	log    *zap.Logger

	home *flow.State[HomeState]
	best *flow.State[BestScoresState]

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewScoreboardService 创建实时视图服务
func NewScoreboardService(repo repository.ScoreRepository, pictureURLFmt string, log *zap.Logger) ScoreboardService {
	if log == nil {
		log = zap.NewNop()
	}
	return &scoreboardService{
		repo:   repo,
		mapper: newViewMapper(pictureURLFmt),
		log:    log,
		home:   flow.NewState(HomeState{Games: []ScoreView{}}),
		best:   flow.NewState(BestScoresState{Games: []ScoreView{}}),
	}
}

// Start 订阅仓储的实时列表，重复调用无效果
func (s *scoreboardService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scoreboard stopped")
	}
	if s.cancel != nil {
		return nil
	}

	latest, err := s.repo.WatchOrderedByLatest(ctx)
	if err != nil {
		return fmt.Errorf("订阅最近成绩失败: %w", err)
	}
	byScore, err := s.repo.WatchOrderedByScore(ctx)
	if err != nil {
		latest.Close()
		return fmt.Errorf("订阅最佳成绩失败: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.forward(runCtx, latest, func(snap repository.ScoreSnapshot) {
		s.home.Set(HomeState{Loaded: true, Games: s.mapper.many(snap)})
	})
	go s.forward(runCtx, byScore, func(snap repository.ScoreSnapshot) {
		s.best.Set(BestScoresState{Loaded: true, Games: s.mapper.many(snap)})
	})

	s.log.Info("成绩实时视图已启动")
	return nil
}

func (s *scoreboardService) forward(ctx context.Context, sub *flow.Subscription[repository.ScoreSnapshot], apply func(repository.ScoreSnapshot)) {
	defer s.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			apply(snap)
		}
	}
}

// Home 首页状态
func (s *scoreboardService) Home() HomeState {
	return s.home.Value()
}

// Best 排行榜状态
func (s *scoreboardService) Best() BestScoresState {
	return s.best.Value()
}

// SubscribeHome 订阅首页状态
func (s *scoreboardService) SubscribeHome() *flow.Subscription[HomeState] {
	return s.home.Subscribe()
}

// SubscribeBest 订阅排行榜状态
func (s *scoreboardService) SubscribeBest() *flow.Subscription[BestScoresState] {
	return s.best.Subscribe()
}

// Stop 停止转发并关闭所有订阅
func (s *scoreboardService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.home.Close()
	s.best.Close()
}
