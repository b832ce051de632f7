// Package task 采集任务引擎：按调度器节奏执行 tick，每个 tick 在有限次重试内完成
// 构建请求 → 并发拉取 → 聚合 → 持久化，并驱动任务进入 SUCCESS / FAILURE 终态。
package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/apm-collector/pkg/backoff"
	"github.com/apm-collector/pkg/fetch"
	"github.com/apm-collector/pkg/monitor"
	"github.com/apm-collector/pkg/scheduler"
	"github.com/apm-collector/pkg/template"
	"github.com/apm-collector/pkg/window"
)

var (
	// ErrShutdown 任务被外部关闭
	ErrShutdown = errors.New("collection task shut down")
	// ErrMissingCollaborator 缺少必需的协作方
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// Engine 一个采集任务实例
type Engine struct {
	params  Params
	c       Collaborators
	logger  *zap.Logger
	metrics *monitor.EngineMetrics

	resolver  *window.Resolver
	executor  *fetch.Executor
	scheduler *scheduler.Scheduler
	sm        *StateMachine

	// mu 保护 state 的写入以及 commit 与 Shutdown 之间的竞争
	mu     sync.RWMutex
	state  *State
	tickMu sync.Mutex

	prepareOnce sync.Once
	prepareErr  error
	secrets     map[string]string
	mask        map[string]string
	hostGroups  map[string]string
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *monitor.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine 创建任务引擎；Fetcher、Normalizer、Persister 必须提供
func NewEngine(p Params, c Collaborators, opts ...Option) (*Engine, error) {
	switch {
	case c.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher", ErrMissingCollaborator)
	case c.Normalizer == nil:
		return nil, fmt.Errorf("%w: normalizer", ErrMissingCollaborator)
	case c.Persister == nil:
		return nil, fmt.Errorf("%w: persister", ErrMissingCollaborator)
	case c.Decrypter == nil && len(p.SecretRefs) > 0:
		return nil, fmt.Errorf("%w: decrypter (task has %d secret references)", ErrMissingCollaborator, len(p.SecretRefs))
	}
	if p.TotalCollectionMinutes <= 0 {
		return nil, fmt.Errorf("total collection minutes must be positive, got %d", p.TotalCollectionMinutes)
	}
	p.setDefaults()
	if c.Logs == nil {
		c.Logs = nopStreamer{}
	}

	e := &Engine{
		params:     p,
		c:          c,
		logger:     zap.NewNop(),
		sm:         NewStateMachine(p.StateType),
		hostGroups: make(map[string]string, len(p.Hosts)),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(zap.String("task_id", p.TaskID))

	// 1. 初始化任务时钟
	now := p.Now()
	var windowStart time.Time
	if p.Mode == window.AlwaysOn {
		start := p.StartTime
		if start.IsZero() {
			start = window.MinuteFloor(now).Add(-time.Duration(p.TotalCollectionMinutes) * time.Minute)
		}
		e.state = NewState(start)
		windowStart = e.state.CollectionStart
	} else {
		e.state = NewState(now)
	}

	// 2. 组装窗口计算器、拉取执行器与调度器
	e.resolver = window.NewResolver(p.windowConfig(windowStart))
	e.executor = fetch.NewExecutor(c.Fetcher,
		fetch.WithConcurrency(p.FetchConcurrency),
		fetch.WithTimeout(p.FetchTimeout),
		fetch.WithLogger(e.logger.Named("fetch")),
		fetch.WithMetrics(e.metrics))
	e.scheduler = scheduler.New(
		scheduler.WithLogger(e.logger.Named("scheduler")),
		scheduler.WithMetrics(e.metrics))

	for _, h := range p.Hosts {
		g := h.Group
		if g == "" {
			g = defaultGroup
		}
		e.hostGroups[h.Name] = g
	}
	return e, nil
}

// Run 启动调度并阻塞直到任务进入终态；ctx 结束时关闭任务
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := e.prepare(ctx); err != nil {
		e.finish(ctx, false, err.Error())
		return e.sm.Result(), nil
	}

	delay := e.initialDelay()
	e.logger.Info("collection task started",
		zap.String("mode", e.params.Mode.String()),
		zap.String("strategy", e.params.Strategy.String()),
		zap.Int("total_collection_minutes", e.params.TotalCollectionMinutes),
		zap.Int("collection_window_minutes", e.params.CollectionWindowMinutes),
		zap.Duration("initial_delay", delay),
		zap.Duration("period", e.params.TickPeriod))
	e.stream(ctx, fmt.Sprintf("Starting data collection for %d minutes", e.params.TotalCollectionMinutes))

	// 进行中的 tick 不随 ctx 取消而中断
	e.scheduler.Start(context.WithoutCancel(ctx), delay, e.params.TickPeriod, e.Tick)

	res, err := e.sm.Wait(ctx)
	if err != nil {
		e.Shutdown()
		return e.sm.Result(), err
	}
	e.scheduler.Stop()
	return res, nil
}

// Done 任务进入终态时关闭
func (e *Engine) Done() <-chan struct{} {
	return e.sm.Done()
}

// Result 当前结果
func (e *Engine) Result() Result {
	return e.sm.Result()
}

// Shutdown 外部关闭：置为终态、停止调度、唤醒所有等待者。可在任意 goroutine 重复调用。
// 正在执行的 tick 不会被打断，其结果会被丢弃。
func (e *Engine) Shutdown() {
	e.mu.Lock()
	transitioned := e.sm.Fail(context.Background(), ErrShutdown.Error())
	e.mu.Unlock()
	e.scheduler.Stop()
	if transitioned {
		e.logger.Info("collection task shut down",
			zap.Int("data_collection_minute", e.snapshotMinute()))
	}
}

// Wait 等待已提交的 tick 全部结束（在 Shutdown 或终态之后调用）
func (e *Engine) Wait() {
	e.scheduler.Wait()
}

func (e *Engine) initialDelay() time.Duration {
	lo, hi := e.params.InitialDelayMin, e.params.InitialDelayMax
	if hi <= lo {
		return max(lo, 0)
	}
	return lo + rand.N(hi-lo+1)
}

// prepare 解密全部密钥引用并计算 encodeWithBase64，只执行一次
func (e *Engine) prepare(ctx context.Context) error {
	e.prepareOnce.Do(func() {
		raw := make(map[string]string, len(e.params.SecretRefs))
		for name, ref := range e.params.SecretRefs {
			v, err := e.c.Decrypter.Decrypt(ctx, ref)
			if err != nil {
				e.prepareErr = backoff.NewPermanentError(fmt.Errorf("decrypt secret %q: %w", name, err))
				return
			}
			raw[name] = v
		}
		e.secrets = template.EvaluateFunctions(raw)
		e.mask = template.MaskMap(e.secrets)
	})
	return e.prepareErr
}

// Tick 执行一次 tick：在重试预算内完成一次完整的采集流程，成功后推进窗口。
func (e *Engine) Tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.sm.Terminal() {
		return
	}
	if err := e.prepare(ctx); err != nil {
		e.finish(ctx, false, err.Error())
		return
	}
	started := time.Now()

	// 数据可用性保护：窗口结束时间还未到，跳过本次 tick
	if e.params.Mode == window.Bounded {
		if w := e.resolver.Primary(e.state.Clock()); w.End.After(e.params.Now()) {
			e.logger.Debug("window end is in the future, skipping tick",
				zap.Time("end", w.End), zap.Time("now", e.params.Now()))
			e.metrics.TickFinished(monitor.OutcomeSkipped, time.Since(started))
			return
		}
	}

	var rs RetryState
	var res *passResult
	err := retry.Do(
		func() error {
			rs.Attempt++
			e.metrics.Attempt()
			if e.sm.Terminal() {
				return backoff.NewPermanentError(ErrShutdown)
			}
			r, err := e.safePass(ctx)
			if err != nil {
				rs.record(err)
				return err
			}
			res = r
			return nil
		},
		retry.Attempts(uint(e.params.MaxRetries)),
		retry.Delay(e.params.RetryBackoff),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(backoff.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("tick attempt failed",
				zap.Uint("attempt", n+1),
				zap.Int("max_retries", e.params.MaxRetries),
				zap.String("class", backoff.Classify(err).String()),
				zap.String("error", e.masked(err.Error())))
		}),
		retry.Context(ctx),
	)

	if err != nil {
		if e.sm.Terminal() {
			e.metrics.TickFinished(monitor.OutcomeDiscarded, time.Since(started))
			return
		}
		first := rs.FirstError
		if first == nil {
			first = err
		}
		msg := e.masked(first.Error())
		e.logger.Error("tick failed, task will stop",
			zap.Int("attempts", rs.Attempt),
			zap.String("first_error", msg),
			zap.String("last_error", e.masked(err.Error())))
		e.metrics.TickFinished(monitor.OutcomeFailure, time.Since(started))
		e.finish(ctx, false, msg)
		return
	}

	if !e.commit(ctx, res) {
		e.metrics.TickFinished(monitor.OutcomeDiscarded, time.Since(started))
		return
	}
	e.metrics.TickFinished(monitor.OutcomeSuccess, time.Since(started))
}

// commit 推进窗口与逻辑分钟并判断是否完成；任务已被关闭时丢弃结果
func (e *Engine) commit(ctx context.Context, res *passResult) bool {
	e.mu.Lock()
	if e.sm.Terminal() {
		e.mu.Unlock()
		e.logger.Info("task already terminal, discarding tick result")
		return false
	}
	e.state.LastEnd = res.end
	e.state.DataCollectionMinute += res.covered
	e.state.FirstTickCompleted = true
	minute := e.state.DataCollectionMinute
	complete := e.params.Mode == window.AlwaysOn || minute >= e.params.TotalCollectionMinutes
	e.mu.Unlock()

	e.logger.Info("tick completed",
		zap.Int("data_collection_minute", minute),
		zap.Int("records", res.records),
		zap.Int("heartbeats", res.heartbeats),
		zap.Time("end", res.end))
	e.stream(ctx, fmt.Sprintf("Collected %d records for minute %d", res.records, minute))

	if complete {
		e.finish(ctx, true, "")
	}
	return true
}

// finish 进入终态并停止调度
func (e *Engine) finish(ctx context.Context, success bool, msg string) {
	e.mu.Lock()
	var transitioned bool
	if success {
		transitioned = e.sm.Succeed(ctx)
	} else {
		transitioned = e.sm.Fail(ctx, msg)
	}
	e.mu.Unlock()
	e.scheduler.Stop()
	if !transitioned {
		return
	}
	res := e.sm.Result()
	e.logger.Info("collection task finished",
		zap.String("status", res.Status),
		zap.String("error", res.ErrorMessage))
	if success {
		e.stream(ctx, "Data collection completed")
	} else {
		e.stream(ctx, "Data collection failed: "+msg)
	}
}

// stream 发送脱敏后的执行日志
func (e *Engine) stream(ctx context.Context, line string) {
	e.c.Logs.StreamLog(ctx, e.masked(line))
}

func (e *Engine) masked(s string) string {
	for raw, m := range e.mask {
		if raw == "" {
			continue
		}
		s = strings.ReplaceAll(s, raw, m)
	}
	return s
}

// Snapshot /status 使用的只读视图
type Snapshot struct {
	TaskID                 string    `json:"task_id"`
	Phase                  string    `json:"phase"`
	Mode                   string    `json:"mode"`
	Strategy               string    `json:"strategy"`
	DataCollectionMinute   int       `json:"data_collection_minute"`
	TotalCollectionMinutes int       `json:"total_collection_minutes"`
	CollectionStart        time.Time `json:"collection_start"`
	LastEnd                time.Time `json:"last_end"`
	HostStarts             int       `json:"host_starts"`
	Result                 *Result   `json:"result,omitempty"`
}

// Status 当前状态快照，可在任意 goroutine 调用
func (e *Engine) Status() Snapshot {
	e.mu.RLock()
	s := Snapshot{
		TaskID:                 e.params.TaskID,
		Phase:                  string(e.sm.Phase()),
		Mode:                   e.params.Mode.String(),
		Strategy:               e.params.Strategy.String(),
		DataCollectionMinute:   e.state.DataCollectionMinute,
		TotalCollectionMinutes: e.params.TotalCollectionMinutes,
		CollectionStart:        e.state.CollectionStart,
		LastEnd:                e.state.LastEnd,
		HostStarts:             e.state.HostStarts.Len(),
	}
	e.mu.RUnlock()
	if e.sm.Terminal() {
		r := e.sm.Result()
		s.Result = &r
	}
	return s
}

func (e *Engine) snapshotMinute() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.DataCollectionMinute
}
