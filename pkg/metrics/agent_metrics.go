package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewAgentCollectErrorsTotal 自身监控采集器失败的探测次数，标签 collector
func (m *MetricFactory) NewAgentCollectErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "agent_collect_errors_total",
		Help:      "Failed probes of the self-monitoring collectors",
	}, []string{"collector"})
	m.reg.MustRegister(c)
	return c
}

func (m *MetricFactory) NewAgentCollectDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "agent_collect_duration_seconds",
		Help:      "Duration of one self-monitoring collection pass",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{"collector"})
	m.reg.MustRegister(h)
	return h
}
