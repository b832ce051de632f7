package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registers 隔离 Prometheus 默认实现，便于单测替换
type Registers interface {
	prometheus.Registerer
	Register(collector prometheus.Collector) error
	// Gatherer 供 /metrics 暴露
	Gatherer() prometheus.Gatherer
}

// promRegistry 包裹 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器；registry 为 nil 时新建一个（不含 Go 运行时指标）
func NewPromRegistry(registry *prometheus.Registry) Registers {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &promRegistry{registry: registry}
}

// MustRegister 注册失败直接 panic（重复注册属于编程错误）
func (p *promRegistry) MustRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

func (p *promRegistry) Unregister(collector prometheus.Collector) bool {
	return p.registry.Unregister(collector)
}

func (p *promRegistry) Register(collector prometheus.Collector) error {
	return p.registry.Register(collector)
}

func (p *promRegistry) Gatherer() prometheus.Gatherer {
	return p.registry
}
