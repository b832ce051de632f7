// Package scheduler 固定频率触发 tick，并保证 tick 之间不会重叠：
// 正在执行时最多再排队一个后续 tick，多余的触发直接丢弃。
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apm-collector/pkg/monitor"
)

// TickFunc 一次 tick 的工作
type TickFunc func(ctx context.Context)

// Scheduler 带合并能力的周期调度器
type Scheduler struct {
	logger  *zap.Logger
	metrics *monitor.EngineMetrics

	mu      sync.Mutex
	tick    TickFunc
	tickCtx context.Context
	running chan struct{} // 当前 tick 的完成信号，nil 表示从未提交
	waiting bool          // 是否已有排队的后续 tick
	started bool
	stopped bool

	cancel   context.CancelFunc
	stopOnce sync.Once
	inflight sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *monitor.EngineMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start 在 initialDelay 后首次触发，此后每隔 period 触发一次。
// ctx 同时作为 tick 的上下文；Stop 只停止定时器，不打断正在执行的 tick。
func (s *Scheduler) Start(ctx context.Context, initialDelay, period time.Duration, tick TickFunc) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		s.logger.Warn("scheduler already started or stopped, ignoring Start")
		return
	}
	s.started = true
	s.tick = tick
	s.tickCtx = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("initial_delay", initialDelay),
		zap.Duration("period", period))

	go s.loop(loopCtx, initialDelay, period)
}

func (s *Scheduler) loop(ctx context.Context, initialDelay, period time.Duration) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	s.fire()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fire()
		case <-ctx.Done():
			s.logger.Debug("scheduler loop exited", zap.Error(ctx.Err()))
			return
		}
	}
}

// fire 处理一次定时器触发：
// 1. 没有在执行的 tick：立即提交
// 2. 有 tick 在执行且无排队：提交一个等待者，等当前 tick 结束后再提交一次
// 3. 有 tick 在执行且已有排队：丢弃本次触发
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.waiting {
		s.logger.Warn("tick still running and a follow-up is already queued, dropping this fire")
		s.metrics.Dropped()
		return
	}
	if !s.busyLocked() {
		s.submitLocked()
		return
	}

	s.waiting = true
	s.metrics.Coalesced()
	s.logger.Info("tick still running, queueing one follow-up")
	prev := s.running
	go func() {
		<-prev
		s.mu.Lock()
		defer s.mu.Unlock()
		s.waiting = false
		if s.stopped {
			return
		}
		s.submitLocked()
	}()
}

func (s *Scheduler) busyLocked() bool {
	if s.running == nil {
		return false
	}
	select {
	case <-s.running:
		return false
	default:
		return true
	}
}

func (s *Scheduler) submitLocked() {
	done := make(chan struct{})
	s.running = done
	s.inflight.Add(1)
	tick, ctx := s.tick, s.tickCtx
	go func() {
		defer s.inflight.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tick panicked", zap.Any("panic", r))
			}
		}()
		tick(ctx)
	}()
}

// Stop 停止定时器并丢弃排队的 tick，可重复调用、可在任意 goroutine 调用
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.logger.Info("scheduler stopped")
	})
}

// Wait 阻塞直到已提交的 tick 全部结束
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Busy 当前是否有 tick 在执行
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}
