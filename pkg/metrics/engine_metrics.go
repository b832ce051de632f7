package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -------------------------- 采集引擎指标 --------------------------

// NewTicksTotal tick 结果计数，标签 outcome: success/failure/skipped/discarded
func (m *MetricFactory) NewTicksTotal() *prometheus.CounterVec {
	return promauto.With(m.reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_total",
			Help:      "Number of finished ticks by outcome",
		},
		[]string{"outcome"},
	)
}

// NewTickAttemptsTotal 每次 tick 内的尝试次数（含重试）
func (m *MetricFactory) NewTickAttemptsTotal() prometheus.Counter {
	return promauto.With(m.reg).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tick_attempts_total",
			Help:      "Number of tick pass attempts including retries",
		},
	)
}

func (m *MetricFactory) NewTicksCoalescedTotal() prometheus.Counter {
	return promauto.With(m.reg).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_coalesced_total",
			Help:      "Timer fires queued behind an in-flight tick",
		},
	)
}

func (m *MetricFactory) NewTicksDroppedTotal() prometheus.Counter {
	return promauto.With(m.reg).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_dropped_total",
			Help:      "Timer fires dropped because a follow-up tick was already queued",
		},
	)
}

// NewFetchJobsTotal 拉取任务结果，标签 result: ok/error
func (m *MetricFactory) NewFetchJobsTotal() *prometheus.CounterVec {
	return promauto.With(m.reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fetch_jobs_total",
			Help:      "Fetch jobs executed by result",
		},
		[]string{"result"},
	)
}

func (m *MetricFactory) NewRecordsPersistedTotal() prometheus.Counter {
	return promauto.With(m.reg).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_persisted_total",
			Help:      "Records handed to the persister, heartbeats included",
		},
	)
}

func (m *MetricFactory) NewHeartbeatsTotal() prometheus.Counter {
	return promauto.With(m.reg).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "heartbeats_total",
			Help:      "Synthesized heartbeat records",
		},
	)
}

// NewTickDurationSeconds 单个 tick（含重试与退避）的总耗时
func (m *MetricFactory) NewTickDurationSeconds() prometheus.Histogram {
	return promauto.With(m.reg).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a tick including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 0.05s ~ 102s
		},
	)
}
