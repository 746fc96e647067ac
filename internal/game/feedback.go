package game

// Feedback 反馈协作方（音效与提示）
type Feedback interface {
	// Emit 播放某个信号对应的反馈
	Emit(sig Signal)
	// EmitFailure 播放失败提示
	EmitFailure()
	// CancelLast 中止最近一次反馈
	CancelLast()
}

// Cue 发送给客户端的反馈提示
type Cue string

const (
	CueFailure Cue = "failure"
	CueCancel  Cue = "cancel"
)

// SignalCue 信号对应的提示
func SignalCue(sig Signal) Cue {
	return Cue(sig.String())
}

// NopFeedback 不做任何事的反馈
type NopFeedback struct{}

func (NopFeedback) Emit(Signal)  {}
func (NopFeedback) EmitFailure() {}
func (NopFeedback) CancelLast()  {}

// CueFeedback 将反馈转换为提示并交给 sink 发送
type CueFeedback struct {
	sink func(Cue)
}

// NewCueFeedback 创建提示反馈
func NewCueFeedback(sink func(Cue)) *CueFeedback {
	return &CueFeedback{sink: sink}
}

func (f *CueFeedback) Emit(sig Signal) { f.sink(SignalCue(sig)) }
func (f *CueFeedback) EmitFailure()    { f.sink(CueFailure) }
func (f *CueFeedback) CancelLast()     { f.sink(CueCancel) }
