package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NewProcessCPUPercent 采集进程自身 CPU 使用率
func (m *MetricFactory) NewProcessCPUPercent() prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "process_cpu_percent",
		Help:      "CPU usage percentage of the collector process",
	})
	m.reg.MustRegister(g)
	return g
}

// NewProcessRSSBytes 常驻内存
func (m *MetricFactory) NewProcessRSSBytes() prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "process_resident_memory_bytes",
		Help:      "Resident memory size of the collector process",
	})
	m.reg.MustRegister(g)
	return g
}

func (m *MetricFactory) NewProcessThreads() prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "process_threads",
		Help:      "Number of OS threads of the collector process",
	})
	m.reg.MustRegister(g)
	return g
}

// NewHostLoad 主机平均负载，标签 window: 1m/5m/15m
func (m *MetricFactory) NewHostLoad() *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "host_load",
		Help:      "Host load average",
	}, []string{"window"})
	m.reg.MustRegister(g)
	return g
}
