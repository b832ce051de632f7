// Package fetch 在单个 tick 内以有限并发执行拉取任务。
// 单个任务失败不影响其它任务，执行器本身不做重试（重试属于 tick 级别）。
package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apm-collector/pkg/monitor"
)

const DefaultConcurrency = 10

// Fetcher 拉取原始响应的协作方；产生的日志不得包含未脱敏的密钥
type Fetcher interface {
	FetchRaw(ctx context.Context, job Job) ([]byte, error)
}

// FetcherFunc 适配普通函数
type FetcherFunc func(ctx context.Context, job Job) ([]byte, error)

func (f FetcherFunc) FetchRaw(ctx context.Context, job Job) ([]byte, error) { return f(ctx, job) }

// Outcome 单个任务的结果；Err 非 nil 时 Body 无意义
type Outcome struct {
	Job  Job
	Body []byte
	Err  error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Executor 有限并发的拉取执行器
type Executor struct {
	fetcher     Fetcher
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *monitor.EngineMetrics
}

type Option func(*Executor)

func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout 单个任务的超时，0 表示不限
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *monitor.EngineMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(f Fetcher, opts ...Option) *Executor {
	e := &Executor{
		fetcher:     f,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run 执行全部任务，所有任务完成或失败后返回，结果与 jobs 一一对应
func (e *Executor) Run(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	if len(jobs) == 0 {
		return outcomes
	}

	// 不使用 errgroup.WithContext：单个失败不能取消兄弟任务
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = e.runOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Executor) runOne(ctx context.Context, job Job) (out Outcome) {
	out.Job = job
	defer func() {
		if r := recover(); r != nil {
			out.Body = nil
			out.Err = fmt.Errorf("fetch %s panicked: %v", job.MaskedURL(), r)
		}
		e.metrics.Fetched(out.Err == nil)
		if out.Err != nil {
			e.logger.Warn("fetch job failed",
				zap.String("metric", job.Metric()),
				zap.String("host", job.Host()),
				zap.String("url", job.MaskedURL()),
				zap.String("error", job.Masked(out.Err.Error())))
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := e.fetcher.FetchRaw(ctx, job)
	if err != nil {
		out.Err = err
		return out
	}
	out.Body = body
	e.logger.Debug("fetch job done",
		zap.String("metric", job.Metric()),
		zap.String("host", job.Host()),
		zap.String("url", job.MaskedURL()),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))
	return out
}
