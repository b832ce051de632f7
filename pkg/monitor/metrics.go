package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apm-collector/pkg/metrics"
)

// tick 结果标签
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeDiscarded = "discarded"
)

// -------------------------- 采集引擎指标结构体 --------------------------
// 所有方法对 nil 接收者安全，未注入指标的组件（如单测）直接跳过上报
type EngineMetrics struct {
	Ticks            *prometheus.CounterVec // tick 结果
	TickAttempts     prometheus.Counter     // 尝试次数（含重试）
	TicksCoalesced   prometheus.Counter     // 排队等待的 tick
	TicksDropped     prometheus.Counter     // 被丢弃的 tick
	FetchJobs        *prometheus.CounterVec // 拉取任务结果
	RecordsPersisted prometheus.Counter     // 持久化记录数
	Heartbeats       prometheus.Counter     // 心跳记录数
	TickDuration     prometheus.Histogram   // tick 耗时
}

// NewEngineMetrics 通过工厂创建并注册全部引擎指标
func NewEngineMetrics(f *metrics.MetricFactory) *EngineMetrics {
	return &EngineMetrics{
		Ticks:            f.NewTicksTotal(),
		TickAttempts:     f.NewTickAttemptsTotal(),
		TicksCoalesced:   f.NewTicksCoalescedTotal(),
		TicksDropped:     f.NewTicksDroppedTotal(),
		FetchJobs:        f.NewFetchJobsTotal(),
		RecordsPersisted: f.NewRecordsPersistedTotal(),
		Heartbeats:       f.NewHeartbeatsTotal(),
		TickDuration:     f.NewTickDurationSeconds(),
	}
}

func (m *EngineMetrics) TickFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(elapsed.Seconds())
}

func (m *EngineMetrics) Attempt() {
	if m == nil {
		return
	}
	m.TickAttempts.Inc()
}

func (m *EngineMetrics) Coalesced() {
	if m == nil {
		return
	}
	m.TicksCoalesced.Inc()
}

func (m *EngineMetrics) Dropped() {
	if m == nil {
		return
	}
	m.TicksDropped.Inc()
}

func (m *EngineMetrics) Fetched(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.FetchJobs.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) Persisted(records, heartbeats int) {
	if m == nil {
		return
	}
	m.RecordsPersisted.Add(float64(records))
	m.Heartbeats.Add(float64(heartbeats))
}

// -------------------------- 进程自身监控指标结构体 --------------------------
type ProcessMetrics struct {
	CPUPercent prometheus.Gauge     // 进程 CPU 使用率
	RSSBytes   prometheus.Gauge     // 常驻内存（字节）
	Threads    prometheus.Gauge     // 线程数
	Load       *prometheus.GaugeVec // 主机负载 1m/5m/15m
}

// NewProcessMetrics 通过工厂创建并注册进程监控指标
func NewProcessMetrics(f *metrics.MetricFactory) ProcessMetrics {
	return ProcessMetrics{
		CPUPercent: f.NewProcessCPUPercent(),
		RSSBytes:   f.NewProcessRSSBytes(),
		Threads:    f.NewProcessThreads(),
		Load:       f.NewHostLoad(),
	}
}
