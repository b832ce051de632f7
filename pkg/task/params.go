package task

import (
	"time"

	"github.com/apm-collector/pkg/aggregate"
	"github.com/apm-collector/pkg/config"
	"github.com/apm-collector/pkg/window"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 30 * time.Second
)

// Host 主机及其分组
type Host struct {
	Name  string
	Group string
}

// MetricTemplate 单个指标的请求模板
type MetricTemplate struct {
	Name   string
	Path   string
	Method string
	Body   string
}

// Params 任务启动时一次性读取的参数
type Params struct {
	TaskID    string
	StateType string

	Mode                    window.Mode
	Strategy                window.Strategy
	TotalCollectionMinutes  int
	CollectionWindowMinutes int

	TickPeriod      time.Duration
	InitialDelayMin time.Duration
	InitialDelayMax time.Duration

	MaxRetries       int
	RetryBackoff     time.Duration
	FetchConcurrency int
	FetchTimeout     time.Duration

	StartTime         time.Time
	LookBackMinutes   int
	CanaryDays        int
	TestHost          string
	ControlHostPrefix string
	CanaryURL         string

	Hosts      []Host
	BaseURL    string
	Headers    map[string]string
	Options    map[string]string
	Metrics    []MetricTemplate
	SecretRefs map[string]string

	Metadata aggregate.Metadata

	// Now 可注入的时钟，默认 time.Now
	Now func() time.Time
}

// ParamsFromConfig 把配置转换为引擎参数
func ParamsFromConfig(tc config.TaskConfig) Params {
	p := Params{
		TaskID:                  tc.ID,
		StateType:               tc.StateType,
		Mode:                    window.Bounded,
		Strategy:                window.Comparative,
		TotalCollectionMinutes:  tc.TotalCollectionMinutes,
		CollectionWindowMinutes: tc.CollectionWindowMinutes,
		TickPeriod:              tc.TickPeriod,
		InitialDelayMin:         tc.InitialDelayMin,
		InitialDelayMax:         tc.InitialDelayMax,
		MaxRetries:              tc.MaxRetries,
		RetryBackoff:            tc.RetryBackoff,
		FetchConcurrency:        tc.FetchConcurrency,
		FetchTimeout:            tc.FetchTimeout,
		StartTime:               tc.StartTime,
		LookBackMinutes:         tc.LookBackMinutes,
		CanaryDays:              tc.CanaryDays,
		TestHost:                tc.TestHost,
		ControlHostPrefix:       tc.ControlHostPrefix,
		CanaryURL:               tc.CanaryURL,
		BaseURL:                 tc.BaseURL,
		Headers:                 tc.Headers,
		Options:                 tc.Options,
		SecretRefs:              tc.Secrets,
		Metadata: aggregate.Metadata{
			AccountID:        tc.Persistence.AccountID,
			AppID:            tc.Persistence.AppID,
			ServiceID:        tc.Persistence.ServiceID,
			WorkflowID:       tc.Persistence.WorkflowID,
			StateExecutionID: tc.Persistence.StateExecutionID,
			TaskID:           tc.ID,
			StateType:        tc.StateType,
		},
	}
	if tc.IsAlwaysOn() {
		p.Mode = window.AlwaysOn
	}
	if tc.IsPredictive() {
		p.Strategy = window.Predictive
	}
	for _, h := range tc.Hosts {
		p.Hosts = append(p.Hosts, Host{Name: h.Name, Group: h.Group})
	}
	for _, m := range tc.Metrics {
		p.Metrics = append(p.Metrics, MetricTemplate{Name: m.Name, Path: m.Path, Method: m.Method, Body: m.Body})
	}
	return p
}

func (p *Params) setDefaults() {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryBackoff < 0 {
		p.RetryBackoff = DefaultRetryBackoff
	}
	if p.CollectionWindowMinutes <= 0 {
		p.CollectionWindowMinutes = 1
	}
	if p.TickPeriod <= 0 {
		p.TickPeriod = time.Minute
	}
	if p.TestHost == "" {
		p.TestHost = "testNode"
	}
	if p.ControlHostPrefix == "" {
		p.ControlHostPrefix = "controlNode"
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Metadata.TaskID == "" {
		p.Metadata.TaskID = p.TaskID
	}
	if p.Metadata.StateType == "" {
		p.Metadata.StateType = p.StateType
	}
}

func (p *Params) windowConfig(windowStart time.Time) window.Config {
	return window.Config{
		Mode:                    p.Mode,
		Strategy:                p.Strategy,
		CollectionWindowMinutes: p.CollectionWindowMinutes,
		TotalCollectionMinutes:  p.TotalCollectionMinutes,
		LookBackMinutes:         p.LookBackMinutes,
		CanaryDays:              p.CanaryDays,
		TestHost:                p.TestHost,
		ControlHostPrefix:       p.ControlHostPrefix,
		CanaryURLConfigured:     p.CanaryURL != "",
		WindowStart:             windowStart,
	}
}
