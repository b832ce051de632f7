// Package window 计算每个 tick 的采集时间窗口 [start, end) 以及记录的逻辑分钟。
//
// 支持两种任务模式（bounded 增量 / always_on 一次性）、两种分析策略（comparative / predictive），
// 以及 canary 测试主机按天偏移的多窗口展开。
package window

import (
	"fmt"
	"sync"
	"time"
)

// Mode 任务模式
type Mode int

const (
	Bounded Mode = iota
	AlwaysOn
)

func (m Mode) String() string {
	if m == AlwaysOn {
		return "always_on"
	}
	return "bounded"
}

// Strategy 分析策略
type Strategy int

const (
	Comparative Strategy = iota
	Predictive
)

func (s Strategy) String() string {
	if s == Predictive {
		return "predictive"
	}
	return "comparative"
}

const (
	DefaultCanaryDays      = 7
	DefaultLookBackMinutes = 120
	day                    = 24 * time.Hour
)

// Config Resolver 的静态配置
type Config struct {
	Mode                    Mode
	Strategy                Strategy
	CollectionWindowMinutes int
	TotalCollectionMinutes  int
	LookBackMinutes         int
	CanaryDays              int
	TestHost                string
	ControlHostPrefix       string
	// CanaryURLConfigured 为 true 时测试主机不做按天展开
	CanaryURLConfigured bool
	// WindowStart always_on 模式下早于它的记录被丢弃
	WindowStart time.Time
}

// Clock 任务当前的时间状态快照（由任务状态生成，只读）
type Clock struct {
	CollectionStart      time.Time
	LastEnd              time.Time
	FirstTickCompleted   bool
	DataCollectionMinute int
}

// Window 单个主机的采集窗口
type Window struct {
	Host  string
	Start time.Time
	End   time.Time
}

// Minutes 窗口覆盖的分钟数
func (w Window) Minutes() int {
	return int(w.End.Sub(w.Start) / time.Minute)
}

// HostStarts 每个主机的逻辑起始分钟覆盖表；同一主机一旦写入就不再覆盖
type HostStarts struct {
	mu sync.RWMutex
	m  map[string]time.Time
}

func NewHostStarts() *HostStarts {
	return &HostStarts{m: make(map[string]time.Time)}
}

// SetOnce 首次写入返回 true；已存在时保持原值并返回 false
func (h *HostStarts) SetOnce(host string, start time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.m[host]; ok {
		return false
	}
	h.m[host] = start
	return true
}

func (h *HostStarts) Get(host string) (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.m[host]
	return t, ok
}

// Len 已记录起点的主机数
func (h *HostStarts) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.m)
}

// Resolver 窗口计算器，无内部可变状态
type Resolver struct {
	cfg Config
}

func NewResolver(cfg Config) *Resolver {
	if cfg.CanaryDays < 0 {
		cfg.CanaryDays = 0
	}
	if cfg.LookBackMinutes < 0 {
		cfg.LookBackMinutes = 0
	}
	return &Resolver{cfg: cfg}
}

// IsBootstrap 首个 tick 尚未成功完成
func IsBootstrap(c Clock) bool {
	return !c.FirstTickCompleted
}

// AppliesLookBack predictive + bounded 且处于首个逻辑分钟时需要向前回看
func (r *Resolver) AppliesLookBack(c Clock) bool {
	return r.cfg.Strategy == Predictive && r.cfg.Mode == Bounded && c.DataCollectionMinute == 0
}

// Primary 计算本次 tick 的主窗口（非 canary）
func (r *Resolver) Primary(c Clock) Window {
	start := c.LastEnd
	if r.cfg.Mode == AlwaysOn {
		return Window{Start: start, End: start.Add(time.Duration(r.cfg.TotalCollectionMinutes) * time.Minute)}
	}

	step := 1
	if !IsBootstrap(c) {
		step = r.cfg.CollectionWindowMinutes
	}
	end := start.Add(time.Duration(step) * time.Minute)
	if limit := c.CollectionStart.Add(time.Duration(r.cfg.TotalCollectionMinutes) * time.Minute); end.After(limit) {
		end = limit
	}
	if r.AppliesLookBack(c) {
		start = start.Add(-time.Duration(r.cfg.LookBackMinutes) * time.Minute)
	}
	return Window{Start: start, End: end}
}

// Origin bounded 任务逻辑分钟 0 对应的时刻。
// predictive 任务整个生命周期都以回看起点为原点，保证各 tick 的逻辑分钟单调递增。
func (r *Resolver) Origin(c Clock) time.Time {
	if r.cfg.Mode == Bounded && r.cfg.Strategy == Predictive {
		return c.CollectionStart.Add(-time.Duration(r.cfg.LookBackMinutes) * time.Minute)
	}
	return c.CollectionStart
}

// RecordLookBackStarts 回看生效时把各主机的起点（回看原点）写入 HostStarts，后续 tick 沿用
func (r *Resolver) RecordLookBackStarts(hosts []string, c Clock, hs *HostStarts) {
	if hs == nil || !r.AppliesLookBack(c) {
		return
	}
	origin := minuteFloor(r.Origin(c))
	for _, h := range hosts {
		hs.SetOnce(h, origin)
	}
}

// IsCanaryHost 测试主机且没有显式 canary URL，且处于 comparative 策略
func (r *Resolver) IsCanaryHost(host string) bool {
	return r.cfg.Strategy == Comparative && !r.cfg.CanaryURLConfigured && host != "" && host == r.cfg.TestHost
}

// ControlHost 第 i 个对照主机名
func (r *Resolver) ControlHost(i int) string {
	return fmt.Sprintf("%s-%d", r.cfg.ControlHostPrefix, i)
}

// ForHost 返回主机在本次 tick 需要采集的所有窗口。
// canary 测试主机会展开为 CanaryDays+1 个窗口，第 i 个比第 0 个早 i 天，
// 并在首次出现时把各自的起始分钟写入 HostStarts。
func (r *Resolver) ForHost(host string, primary Window, hs *HostStarts) []Window {
	if !r.IsCanaryHost(host) {
		w := primary
		w.Host = host
		return []Window{w}
	}
	out := make([]Window, 0, r.cfg.CanaryDays+1)
	for i := 0; i <= r.cfg.CanaryDays; i++ {
		offset := time.Duration(i) * day
		name := host
		if i > 0 {
			name = r.ControlHost(i)
		}
		w := Window{Host: name, Start: primary.Start.Add(-offset), End: primary.End.Add(-offset)}
		if hs != nil {
			hs.SetOnce(name, minuteFloor(w.Start))
		}
		out = append(out, w)
	}
	return out
}

// LogicalMinute 计算记录的逻辑分钟；第二个返回值为 false 表示该记录属于过去的数据，应丢弃。
func (r *Resolver) LogicalMinute(ts time.Time, host string, c Clock, hs *HostStarts) (int, bool) {
	if r.cfg.Mode == AlwaysOn {
		if !r.cfg.WindowStart.IsZero() && ts.Before(r.cfg.WindowStart) {
			return 0, false
		}
		return int(ts.Unix() / 60), true
	}

	effective := r.Origin(c)
	if t, ok := hs.Get(host); ok {
		effective = t
	}
	minute := int(minuteFloor(ts).Sub(effective) / time.Minute)
	if minute < 0 {
		return 0, false
	}
	return minute, true
}

// MinuteFloor 对齐到整分钟
func MinuteFloor(t time.Time) time.Time {
	return minuteFloor(t)
}

func minuteFloor(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
