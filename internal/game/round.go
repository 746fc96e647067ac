package game

import (
	"context"
	"errors"
	"sync"

	"github.com/wfunc/simon-game/internal/flow"
	"github.com/wfunc/simon-game/internal/logger"
	"go.uber.org/zap"
)

// LaunchFlags 各颜色是否需要客户端播放动画
type LaunchFlags struct {
	Green  bool `json:"green"`
	Red    bool `json:"red"`
	Yellow bool `json:"yellow"`
	Blue   bool `json:"blue"`
}

// Get 返回信号对应的标志
func (l LaunchFlags) Get(sig Signal) bool {
	switch sig {
	case SignalGreen:
		return l.Green
	case SignalRed:
		return l.Red
	case SignalYellow:
		return l.Yellow
	case SignalBlue:
		return l.Blue
	}
	return false
}

func (l LaunchFlags) with(sig Signal, v bool) LaunchFlags {
	switch sig {
	case SignalGreen:
		l.Green = v
	case SignalRed:
		l.Red = v
	case SignalYellow:
		l.Yellow = v
	case SignalBlue:
		l.Blue = v
	}
	return l
}

// GameUIState 游戏界面状态快照
type GameUIState struct {
	SessionID         string      `json:"session_id"`
	Level             int         `json:"level"`
	IsShowingSequence bool        `json:"is_showing_sequence"`
	IsGameStarted     bool        `json:"is_game_started"`
	IsGameFinished    bool        `json:"is_game_finished"`
	Launch            LaunchFlags `json:"launch"`
}

// GuessOutcome 一次猜测的结果
type GuessOutcome string

const (
	GuessAccepted      GuessOutcome = "accepted"       // 猜对，本关继续
	GuessLevelComplete GuessOutcome = "level_complete" // 猜对且本关完成，开始回放下一关
	GuessGameOver      GuessOutcome = "game_over"      // 猜错，游戏结束
)

// GameOverFunc 游戏结束回调，分数为结束时的关卡
type GameOverFunc func(sessionID string, score int)

// RoundConfig 回合控制器配置
type RoundConfig struct {
	SessionID  string
	Random     RandomSource
	Playback   PlaybackConfig
	Feedback   Feedback
	Logger     *zap.Logger
	OnGameOver GameOverFunc
}

// RoundController 回合控制器，串行处理一局游戏的所有事件
type RoundController struct {
	mu         sync.Mutex
	sessionID  string
	engine     *Engine
	sm         *StateMachine
	playback   *Playback
	feedback   Feedback
	ui         *flow.State[GameUIState]
	logger     *zap.Logger
	onGameOver GameOverFunc

	ctx        context.Context
	cancel     context.CancelFunc
	task       *PlaybackTask
	generation uint64
	closed     bool
}

// NewRoundController 创建回合控制器
func NewRoundController(cfg RoundConfig) *RoundController {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Feedback == nil {
		cfg.Feedback = NopFeedback{}
	}
	log := cfg.Logger.With(zap.String("session_id", cfg.SessionID))

	ctx, cancel := context.WithCancel(context.Background())
	c := &RoundController{
		sessionID:  cfg.SessionID,
		engine:     NewEngine(cfg.Random),
		sm:         NewStateMachine(cfg.SessionID, log),
		playback:   NewPlayback(cfg.Playback, log),
		feedback:   cfg.Feedback,
		logger:     log,
		onGameOver: cfg.OnGameOver,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.ui = flow.NewState(GameUIState{
		SessionID: cfg.SessionID,
		Level:     c.engine.CurrentLevel(),
	})
	c.sm.OnStateChange(func(from, to Phase, event string) {
		logger.LogGameEvent(log, event, cfg.SessionID,
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})

	return c
}

// SessionID 会话ID
func (c *RoundController) SessionID() string {
	return c.sessionID
}

// Start 开始游戏并回放第一关
func (c *RoundController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	if c.sm.GetState() != PhaseNotStarted {
		return ErrGameAlreadyStarted
	}
	if err := c.sm.Trigger(ctx, EventStartGame); err != nil {
		return err
	}

	c.ui.Update(func(s GameUIState) GameUIState {
		s.IsGameStarted = true
		s.Level = c.engine.CurrentLevel()
		return s
	})
	c.startPlaybackLocked()
	return nil
}

// Guess 处理玩家的一次猜测
func (c *RoundController) Guess(ctx context.Context, sig Signal) (GuessOutcome, error) {
	c.mu.Lock()
	outcome, score, err := c.guessLocked(ctx, sig)
	cb := c.onGameOver
	c.mu.Unlock()

	if err == nil && outcome == GuessGameOver && cb != nil {
		cb(c.sessionID, score)
	}
	return outcome, err
}

func (c *RoundController) guessLocked(ctx context.Context, sig Signal) (GuessOutcome, int, error) {
	if c.closed {
		return "", 0, ErrSessionClosed
	}
	if !sig.IsPlayable() {
		return "", 0, ErrInvalidSignal
	}
	switch c.sm.GetState() {
	case PhaseNotStarted:
		return "", 0, ErrGameNotStarted
	case PhaseGameOver:
		return "", 0, ErrGameFinished
	case PhaseAwaitingPlayback, PhaseLevelComplete:
		return "", 0, ErrSequenceInProgress
	}
	if !c.engine.HasGuessRemaining() {
		return "", 0, ErrNoGuessRemaining
	}

	// 先给出按下的反馈，再判定
	c.feedback.Emit(sig)
	c.ui.Update(func(s GameUIState) GameUIState {
		s.Launch = s.Launch.with(sig, true)
		return s
	})

	c.engine.SubmitGuess(sig)

	switch {
	case c.engine.IsFinished():
		if err := c.sm.Trigger(ctx, EventGuessWrong); err != nil {
			return "", 0, err
		}
		c.endGameLocked()
		return GuessGameOver, c.engine.CurrentLevel(), nil

	case !c.engine.HasGuessRemaining():
		if err := c.sm.Trigger(ctx, EventLevelComplete); err != nil {
			return "", 0, err
		}
		c.engine.AdvanceLevel()
		if err := c.sm.Trigger(ctx, EventNextLevel); err != nil {
			return "", 0, err
		}
		c.ui.Update(func(s GameUIState) GameUIState {
			s.Level = c.engine.CurrentLevel()
			return s
		})
		c.startPlaybackLocked()
		return GuessLevelComplete, 0, nil

	default:
		if err := c.sm.Trigger(ctx, EventGuessOK); err != nil {
			return "", 0, err
		}
		return GuessAccepted, 0, nil
	}
}

// endGameLocked 结束游戏的反馈只会发生一次
func (c *RoundController) endGameLocked() {
	c.feedback.CancelLast()
	c.feedback.EmitFailure()
	c.ui.Update(func(s GameUIState) GameUIState {
		s.Launch = LaunchFlags{Green: true, Red: true, Yellow: true, Blue: true}
		s.IsShowingSequence = false
		s.IsGameFinished = true
		return s
	})
}

// AnimationLaunched 客户端已播放某颜色的动画
func (c *RoundController) AnimationLaunched(sig Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	if !sig.IsPlayable() {
		return ErrInvalidSignal
	}
	c.ui.Update(func(s GameUIState) GameUIState {
		s.Launch = s.Launch.with(sig, false)
		return s
	})
	return nil
}

// startPlaybackLocked 调用方必须持有锁
func (c *RoundController) startPlaybackLocked() {
	c.generation++
	gen := c.generation

	c.ui.Update(func(s GameUIState) GameUIState {
		s.IsShowingSequence = true
		return s
	})

	c.task = c.playback.Start(c.ctx, c.engine.CurrentSequence(), PlaybackHooks{
		OnSignal: func(sig Signal) { c.onPlaybackSignal(gen, sig) },
		OnFinish: func(err error) { c.onPlaybackFinish(gen, err) },
	})
}

func (c *RoundController) onPlaybackSignal(gen uint64, sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.generation {
		return
	}
	c.feedback.Emit(sig)
	c.ui.Update(func(s GameUIState) GameUIState {
		s.Launch = s.Launch.with(sig, true)
		return s
	})
}

func (c *RoundController) onPlaybackFinish(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}

	if errors.Is(err, ErrCorruptSequence) {
		if trigErr := c.sm.Trigger(c.ctx, EventCorruptSequence); trigErr != nil {
			c.logger.Error("结束损坏的回合失败", zap.Error(trigErr))
		}
		c.endGameLocked()
		score := c.engine.CurrentLevel()
		cb := c.onGameOver
		c.mu.Unlock()
		if cb != nil {
			cb(c.sessionID, score)
		}
		return
	}

	if trigErr := c.sm.Trigger(c.ctx, EventPlaybackDone); trigErr != nil {
		c.logger.Error("回放完成后状态转换失败", zap.Error(trigErr))
	}
	c.ui.Update(func(s GameUIState) GameUIState {
		s.IsShowingSequence = false
		return s
	})
	c.mu.Unlock()
}

// State 当前界面状态
func (c *RoundController) State() GameUIState {
	return c.ui.Value()
}

// Subscribe 订阅界面状态
func (c *RoundController) Subscribe() *flow.Subscription[GameUIState] {
	return c.ui.Subscribe()
}

// Phase 当前回合阶段
func (c *RoundController) Phase() Phase {
	return c.sm.GetState()
}

// ValidEvents 当前阶段允许的状态机事件
func (c *RoundController) ValidEvents() []string {
	return c.sm.GetValidEvents()
}

// Close 取消回放、等待回放协程退出并关闭状态订阅，可重复调用
func (c *RoundController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	task := c.task
	c.cancel()
	c.mu.Unlock()

	// 回放回调需要获取锁，必须在释放锁之后等待
	if task != nil {
		task.Cancel()
	}
	c.ui.Close()
}
