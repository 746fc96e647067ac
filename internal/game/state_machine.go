package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase 回合阶段
type Phase string

const (
	PhaseNotStarted       Phase = "not_started"                // 尚未开始
	PhaseAwaitingPlayback Phase = "awaiting_sequence_playback" // 正在回放序列
	PhaseAwaitingInput    Phase = "awaiting_player_input"      // 等待玩家输入
	PhaseLevelComplete    Phase = "level_complete"             // 本关完成（瞬时）
	PhaseGameOver         Phase = "game_over"                  // 游戏结束
)

// 状态机事件
const (
	EventStartGame       = "start_game"
	EventPlaybackDone    = "playback_done"
	EventGuessOK         = "guess_ok"
	EventLevelComplete   = "level_complete"
	EventNextLevel       = "next_level"
	EventGuessWrong      = "guess_wrong"
	EventCorruptSequence = "corrupt_sequence"
)

// StateTransition 状态转换定义
type StateTransition struct {
	From   Phase
	Event  string
	To     Phase
	Action func(ctx context.Context, sm *StateMachine) error
}

// StateMachine 回合状态机
type StateMachine struct {
	mu           sync.RWMutex
	currentState Phase
	sessionID    string
	transitions  map[string]StateTransition
	logger       *zap.Logger

	startTime  time.Time
	lastUpdate time.Time

	onStateChange func(from, to Phase, event string)
}

// NewStateMachine 创建回合状态机
func NewStateMachine(sessionID string, logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &StateMachine{
		currentState: PhaseNotStarted,
		sessionID:    sessionID,
		transitions:  make(map[string]StateTransition),
		logger:       logger,
		lastUpdate:   time.Now(),
	}

	sm.initTransitions()

	return sm
}

// initTransitions 初始化状态转换规则
func (sm *StateMachine) initTransitions() {
	// 未开始 -> 回放（开始游戏）
	sm.addTransition(StateTransition{
		From:  PhaseNotStarted,
		Event: EventStartGame,
		To:    PhaseAwaitingPlayback,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.startTime = time.Now()
			sm.logger.Info("游戏开始", zap.String("session_id", sm.sessionID))
			return nil
		},
	})

	// 回放 -> 等待输入
	sm.addTransition(StateTransition{
		From:  PhaseAwaitingPlayback,
		Event: EventPlaybackDone,
		To:    PhaseAwaitingInput,
	})

	// 等待输入 -> 等待输入（猜对但本关未完成）
	sm.addTransition(StateTransition{
		From:  PhaseAwaitingInput,
		Event: EventGuessOK,
		To:    PhaseAwaitingInput,
	})

	// 等待输入 -> 本关完成
	sm.addTransition(StateTransition{
		From:  PhaseAwaitingInput,
		Event: EventLevelComplete,
		To:    PhaseLevelComplete,
	})

	// 本关完成 -> 回放下一关
	sm.addTransition(StateTransition{
		From:  PhaseLevelComplete,
		Event: EventNextLevel,
		To:    PhaseAwaitingPlayback,
	})

	// 等待输入 -> 游戏结束（猜错）
	sm.addTransition(StateTransition{
		From:  PhaseAwaitingInput,
		Event: EventGuessWrong,
		To:    PhaseGameOver,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.logger.Info("游戏结束",
				zap.String("session_id", sm.sessionID),
				zap.Duration("duration", time.Since(sm.startTime)))
			return nil
		},
	})

	// 回放 -> 游戏结束（序列损坏）
	sm.addTransition(StateTransition{
		From:  PhaseAwaitingPlayback,
		Event: EventCorruptSequence,
		To:    PhaseGameOver,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.logger.Error("序列损坏，强制结束游戏", zap.String("session_id", sm.sessionID))
			return nil
		},
	})
}

// addTransition 添加状态转换
func (sm *StateMachine) addTransition(transition StateTransition) {
	sm.transitions[transitionKey(transition.From, transition.Event)] = transition
}

// transitionKey 生成转换键
func transitionKey(state Phase, event string) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// Trigger 触发事件
func (sm *StateMachine) Trigger(ctx context.Context, event string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	transition, exists := sm.transitions[transitionKey(sm.currentState, event)]
	if !exists {
		return fmt.Errorf("无效的状态转换: 状态=%s, 事件=%s", sm.currentState, event)
	}

	oldState := sm.currentState

	if transition.Action != nil {
		if err := transition.Action(ctx, sm); err != nil {
			// 转换失败，保持原状态
			return fmt.Errorf("状态转换失败: %w", err)
		}
	}

	sm.currentState = transition.To
	sm.lastUpdate = time.Now()

	if sm.onStateChange != nil {
		sm.onStateChange(oldState, sm.currentState, event)
	}

	sm.logger.Debug("状态转换",
		zap.String("session_id", sm.sessionID),
		zap.String("from", string(oldState)),
		zap.String("to", string(sm.currentState)),
		zap.String("event", event))

	return nil
}

// GetState 获取当前状态
func (sm *StateMachine) GetState() Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// LastUpdate 最后一次状态转换时间
func (sm *StateMachine) LastUpdate() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastUpdate
}

// OnStateChange 设置状态变更回调，回调在持有状态机锁时调用
func (sm *StateMachine) OnStateChange(fn func(from, to Phase, event string)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = fn
}

// CanTransition 检查是否可以转换
func (sm *StateMachine) CanTransition(event string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, exists := sm.transitions[transitionKey(sm.currentState, event)]
	return exists
}

// GetValidEvents 获取当前状态下的有效事件（按名称排序）
func (sm *StateMachine) GetValidEvents() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var events []string
	prefix := string(sm.currentState) + ":"
	for key := range sm.transitions {
		if strings.HasPrefix(key, prefix) {
			events = append(events, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(events)

	return events
}
