package metrics

// Namespace 所有采集引擎指标的前缀
const Namespace = "apm_collector"

// MetricFactory 指标工厂，统一创建并注册 counter/gauge/histogram
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// Registry 返回底层注册器
func (m *MetricFactory) Registry() Registers {
	return m.reg
}
