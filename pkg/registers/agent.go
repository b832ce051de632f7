package registers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AgentImpl 按固定间隔依次调用已注册的采集器
type AgentImpl struct {
	collectors []Collector
	interval   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewAgent 创建采集器管理器；logger 为 nil 时不输出
func NewAgent(interval time.Duration, logger *zap.Logger) *AgentImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentImpl{
		interval: interval,
		logger:   logger.With(zap.String("name", "collector-agent")),
	}
}

func (a *AgentImpl) Register(c Collector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collectors = append(a.collectors, c)
}

// Start 初始化全部采集器并启动后台循环，非阻塞
func (a *AgentImpl) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("agent already started")
	}
	for _, c := range a.collectors {
		if err := c.Init(); err != nil {
			return fmt.Errorf("init collector %s: %w", c.Name(), err)
		}
		a.logger.Debug("collector initialized", zap.String("collector", c.Name()))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})
	collectors := append([]Collector(nil), a.collectors...)

	go func() {
		defer close(a.stopped)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.collectAll(loopCtx, collectors)
		for {
			select {
			case <-ticker.C:
				a.collectAll(loopCtx, collectors)
			case <-loopCtx.Done():
				a.logger.Info("collector agent stopped", zap.Error(loopCtx.Err()))
				return
			}
		}
	}()
	a.logger.Info("collector agent started",
		zap.Duration("interval", a.interval),
		zap.Int("collectors", len(collectors)))
	return nil
}

// Shutdown 停止循环并关闭所有采集器，返回最后一个关闭错误
func (a *AgentImpl) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	cancel, stopped := a.cancel, a.stopped
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var lastErr error
	for _, c := range a.collectors {
		if err := c.Close(); err != nil {
			a.logger.Error("failed to close collector", zap.String("collector", c.Name()), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

// collectAll 单个采集器失败不影响其它采集器
func (a *AgentImpl) collectAll(ctx context.Context, collectors []Collector) {
	for _, c := range collectors {
		if err := c.Collect(ctx); err != nil {
			a.logger.Warn("collection failed", zap.String("collector", c.Name()), zap.Error(err))
		}
	}
}
