package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrCanaryConflict 同时配置了 canary 测试主机与显式 canary URL，优先级无法确定
var ErrCanaryConflict = errors.New("task.hosts contains the canary test host while task.canary_url is also set")

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	// 	校验Addr格式(必须是 ":port" 或 "ip:port")
	if h.Addr == "" {
		return errors.New("[ERROR] Server.Addr cannot be empty")
	}
	// 	用net包解析地址，验证格式合法性
	_, err := net.ResolveTCPAddr("tcp", h.Addr)
	if err != nil {
		return fmt.Errorf("[ERROR] Server.Addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}

	return nil
}

func (m *MonitorConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if m.Interval < time.Second || m.Interval > 3600*time.Second {
		return fmt.Errorf("monitor.interval must be between 1 and 3600 seconds, got %s", m.Interval)
	}
	return nil
}

// Validate 采集任务配置校验
// 窗口不能大于总采集时长
// 初始延迟下限不能大于上限
// 主机名不能重复、不能为空白
// canary 测试主机与 canary_url 不能同时出现
func (t *TaskConfig) Validate() error {
	if err := valid.Struct(t); err != nil {
		return err
	}
	if t.CollectionWindowMinutes > t.TotalCollectionMinutes {
		return fmt.Errorf("task.collection_window_minutes (%d) cannot exceed task.total_collection_minutes (%d)",
			t.CollectionWindowMinutes, t.TotalCollectionMinutes)
	}
	if t.InitialDelayMin > t.InitialDelayMax {
		return fmt.Errorf("task.initial_delay_min (%s) cannot exceed task.initial_delay_max (%s)",
			t.InitialDelayMin, t.InitialDelayMax)
	}

	seen := map[string]bool{}
	for _, h := range t.Hosts {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return fmt.Errorf("task.hosts cannot contain empty host name")
		}
		if seen[name] {
			return fmt.Errorf("task.hosts contains duplicate host: %q", name)
		}
		seen[name] = true
	}
	if seen[t.TestHost] && t.CanaryURL != "" {
		return ErrCanaryConflict
	}
	return nil
}

// IsAlwaysOn 是否为 24x7 模式
func (t *TaskConfig) IsAlwaysOn() bool { return t.Mode == "always_on" }

// IsPredictive 是否为预测分析策略
func (t *TaskConfig) IsPredictive() bool { return t.Strategy == "predictive" }
