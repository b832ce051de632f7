package registers

import (
	"context"

	"go.uber.org/zap"

	"github.com/apm-collector/pkg/collector"
	"github.com/apm-collector/pkg/config"
	"github.com/apm-collector/pkg/metrics"
	"github.com/apm-collector/pkg/monitor"
)

type Module struct {
	Enabled bool
	Name    string
	NewFunc func() Collector
}

// Telemetry InitPromRegistry 的产物
//
//	Registry  供 /metrics 暴露
//	Agent     自身监控采集循环，调用方负责 Shutdown
//	Engine    采集引擎指标，注入 task.Engine
type Telemetry struct {
	Registry metrics.Registers
	Agent    Agent
	Engine   *monitor.EngineMetrics
}

// InitPromRegistry 创建注册器与引擎指标，按配置注册并启动自身监控采集器
func InitPromRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := metrics.NewPromRegistry(nil)
	factory := metrics.NewMetricFactory(reg)

	agent := NewAgent(cfg.Monitor.Interval, logger)
	registered := RegisterCollectors(agent, cfg, factory, logger)
	if len(registered) > 0 {
		if err := agent.Start(ctx); err != nil {
			return nil, err
		}
	}

	return &Telemetry{
		Registry: reg,
		Agent:    agent,
		Engine:   monitor.NewEngineMetrics(factory),
	}, nil
}

// RegisterCollectors 采集器注册统一入口，新增采集器只需在 modules 中加一条
func RegisterCollectors(agent Agent, cfg *config.Config, factory *metrics.MetricFactory, logger *zap.Logger) []Collector {
	modules := []Module{
		{
			Enabled: cfg.Monitor.Process.Enable,
			Name:    "process",
			NewFunc: func() Collector {
				return collector.NewProcessCollector(factory)
			},
		},
	}

	var registered []Collector
	for _, m := range modules {
		if !m.Enabled {
			logger.Debug("collector disabled", zap.String("module", m.Name))
			continue
		}
		c := m.NewFunc()
		agent.Register(c)
		registered = append(registered, c)
		logger.Debug("registered collector", zap.String("module", m.Name), zap.String("collector", c.Name()))
	}
	return registered
}
