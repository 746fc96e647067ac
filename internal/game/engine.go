package game

// Engine 序列引擎，维护一局游戏的序列、关卡和剩余猜测数。
// Engine 本身不加锁，由 RoundController 串行调用。
type Engine struct {
	sequence  []Signal
	level     int
	remaining int
	finished  bool
	random    RandomSource
}

// NewEngine 创建引擎并生成第一关的序列
func NewEngine(random RandomSource) *Engine {
	if random == nil {
		random = NewCryptoRandomSource()
	}
	e := &Engine{
		level:     1,
		remaining: 1,
		random:    random,
	}
	e.sequence = []Signal{e.NewSignal()}
	return e
}

// NewSignal 均匀随机地返回四种颜色之一
func (e *Engine) NewSignal() Signal {
	return PlayableSignals[e.random.Intn(len(PlayableSignals))]
}

// AdvanceLevel 关卡加一并在序列末尾追加一个新信号
func (e *Engine) AdvanceLevel() {
	e.level++
	e.remaining = e.level
	e.sequence = append(e.sequence, e.NewSignal())
}

// SubmitGuess 将猜测与当前位置的期望信号比较。
// 不匹配时游戏结束；无论是否匹配，剩余猜测数都会减一。
// 本关猜测次数用完后再提交按不匹配处理，RoundController 会先以 ErrNoGuessRemaining 拒绝。
func (e *Engine) SubmitGuess(guess Signal) {
	pos := e.level - e.remaining
	if pos < 0 || pos >= len(e.sequence) || e.sequence[pos] != guess {
		e.finished = true
	}
	e.remaining--
}

// HasGuessRemaining 本关是否还有剩余猜测
func (e *Engine) HasGuessRemaining() bool {
	return e.remaining > 0
}

// IsFinished 游戏是否已结束
func (e *Engine) IsFinished() bool {
	return e.finished
}

// CurrentSequence 返回序列的副本
func (e *Engine) CurrentSequence() []Signal {
	out := make([]Signal, len(e.sequence))
	copy(out, e.sequence)
	return out
}

// CurrentLevel 当前关卡
func (e *Engine) CurrentLevel() int {
	return e.level
}

// RemainingGuesses 本关剩余猜测数
func (e *Engine) RemainingGuesses() int {
	return e.remaining
}
