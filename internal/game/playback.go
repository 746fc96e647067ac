package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PlaybackConfig 回放节奏配置
type PlaybackConfig struct {
	LeadIn   time.Duration // 第一个信号之前的等待
	Interval time.Duration // 每个信号之后的等待
}

// DefaultPlaybackConfig 默认回放节奏
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		LeadIn:   1000 * time.Millisecond,
		Interval: 500 * time.Millisecond,
	}
}

// PlaybackHooks 回放回调，均在回放协程中调用
type PlaybackHooks struct {
	OnSignal func(sig Signal)
	// OnFinish 回放完成或序列损坏时调用；被取消时不调用
	OnFinish func(err error)
}

// Playback 回放编排器
type Playback struct {
	config PlaybackConfig
	logger *zap.Logger
}

// NewPlayback 创建回放编排器
func NewPlayback(config PlaybackConfig, logger *zap.Logger) *Playback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Playback{config: config, logger: logger}
}

// PlaybackTask 一次正在进行的回放
type PlaybackTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Start 在独立协程中回放序列
func (p *Playback) Start(ctx context.Context, seq []Signal, hooks PlaybackHooks) *PlaybackTask {
	ctx, cancel := context.WithCancel(ctx)
	task := &PlaybackTask{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	// 调用方之后对序列的修改不影响本次回放
	seq = append([]Signal(nil), seq...)

	go func() {
		defer close(task.done)
		defer cancel()

		err := p.run(ctx, seq, hooks)
		task.err = err
		if err != nil && !errors.Is(err, ErrCorruptSequence) {
			return
		}
		if hooks.OnFinish != nil {
			hooks.OnFinish(err)
		}
	}()

	return task
}

func (p *Playback) run(ctx context.Context, seq []Signal, hooks PlaybackHooks) error {
	if err := sleep(ctx, p.config.LeadIn); err != nil {
		return err
	}
	for i, sig := range seq {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !sig.IsPlayable() {
			p.logger.Error("回放序列包含无效信号",
				zap.Int("index", i),
				zap.Stringer("signal", sig),
				zap.Int("length", len(seq)))
			return fmt.Errorf("%w: index %d", ErrCorruptSequence, i)
		}
		if hooks.OnSignal != nil {
			hooks.OnSignal(sig)
		}
		if err := sleep(ctx, p.config.Interval); err != nil {
			return err
		}
	}
	return nil
}

// sleep 等待 d 或 ctx 结束
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Cancel 取消回放并等待协程退出，可重复调用
func (t *PlaybackTask) Cancel() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done 回放协程退出时关闭
func (t *PlaybackTask) Done() <-chan struct{} {
	return t.done
}

// Err 回放结束原因，必须在 Done 关闭后读取
func (t *PlaybackTask) Err() error {
	<-t.done
	return t.err
}
