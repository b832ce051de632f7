// Package collector 采集器进程自身资源监控（实现 registers.Collector 接口）
package collector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	cload "github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/apm-collector/pkg/logger"
	"github.com/apm-collector/pkg/metrics"
	"github.com/apm-collector/pkg/monitor"
)

// ProcessCollector 周期采集本进程 CPU/内存/线程数与主机负载
type ProcessCollector struct {
	name            string
	pid             int32
	proc            *process.Process
	metrics         monitor.ProcessMetrics
	collectErrors   *prometheus.CounterVec
	collectDuration *prometheus.HistogramVec
}

// NewProcessCollector 创建进程采集器，指标在此注册
func NewProcessCollector(metricFactory *metrics.MetricFactory) *ProcessCollector {
	return &ProcessCollector{
		name:            "process-collector",
		pid:             int32(os.Getpid()),
		metrics:         monitor.NewProcessMetrics(metricFactory),
		collectErrors:   metricFactory.NewAgentCollectErrorsTotal(),
		collectDuration: metricFactory.NewAgentCollectDurationSeconds(),
	}
}

func (c *ProcessCollector) Name() string { return c.name }

// Init 预检查进程句柄
func (c *ProcessCollector) Init() error {
	p, err := process.NewProcess(c.pid)
	if err != nil {
		logger.Error("failed to open self process", zap.Int32("pid", c.pid), zap.Error(err))
		return err
	}
	c.proc = p
	return nil
}

// Collect 执行一次采集；单项失败只计数，不中断其它指标
func (c *ProcessCollector) Collect(ctx context.Context) error {
	if c.proc == nil {
		return fmt.Errorf("%s: not initialized", c.name)
	}
	start := time.Now()
	defer func() {
		c.collectDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}()

	var failed int
	if pct, err := c.proc.CPUPercentWithContext(ctx); err != nil {
		logger.Warn("failed to get process cpu", zap.Error(err))
		failed++
	} else {
		c.metrics.CPUPercent.Set(pct)
	}

	if mem, err := c.proc.MemoryInfoWithContext(ctx); err != nil {
		logger.Warn("failed to get process memory", zap.Error(err))
		failed++
	} else {
		c.metrics.RSSBytes.Set(float64(mem.RSS))
	}

	if n, err := c.proc.NumThreadsWithContext(ctx); err != nil {
		logger.Warn("failed to get process threads", zap.Error(err))
		failed++
	} else {
		c.metrics.Threads.Set(float64(n))
	}

	// 主机负载
	if avg, err := cload.AvgWithContext(ctx); err != nil {
		logger.Warn("failed to get host load", zap.Error(err))
		failed++
	} else {
		c.metrics.Load.WithLabelValues("1m").Set(avg.Load1)
		c.metrics.Load.WithLabelValues("5m").Set(avg.Load5)
		c.metrics.Load.WithLabelValues("15m").Set(avg.Load15)
	}

	if failed > 0 {
		c.collectErrors.WithLabelValues(c.name).Add(float64(failed))
		return fmt.Errorf("%s: %d of 4 probes failed", c.name, failed)
	}
	logger.Debug("collected process metrics", zap.String("name", c.name))
	return nil
}

func (c *ProcessCollector) Close() error { return nil }
