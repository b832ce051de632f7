package agent

import "github.com/spf13/cobra"

// initTaskFlags 只暴露标量参数；hosts/metrics/secrets 只能来自配置文件
func initTaskFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	t := defaultCfg.Task
	p := "task."

	f.String(p+"id", t.ID, "-> Task id, generated when empty | 任务ID")
	f.String(p+"state_type", t.StateType, "-> State type reported to the orchestrator | 状态类型")
	f.String(p+"mode", t.Mode, "-> bounded | always_on")
	f.String(p+"strategy", t.Strategy, "-> comparative | predictive")
	f.Int(p+"total_collection_minutes", t.TotalCollectionMinutes, "-> Total minutes to collect | 总采集分钟数")
	f.Int(p+"collection_window_minutes", t.CollectionWindowMinutes, "-> Minutes collected per tick | 每次窗口分钟数")
	f.Duration(p+"tick_period", t.TickPeriod, "-> Scheduler period | 调度周期")
	f.Duration(p+"initial_delay_min", t.InitialDelayMin, "-> Min delay before first tick")
	f.Duration(p+"initial_delay_max", t.InitialDelayMax, "-> Max delay before first tick")
	f.Int(p+"max_retries", t.MaxRetries, "-> Attempts per tick | 单次tick最大尝试次数")
	f.Duration(p+"retry_backoff", t.RetryBackoff, "-> Fixed delay between attempts | 重试间隔")
	f.Int(p+"fetch_concurrency", t.FetchConcurrency, "-> Concurrent fetches per tick | 并发拉取数")
	f.Duration(p+"fetch_timeout", t.FetchTimeout, "-> Timeout of a single fetch | 单次拉取超时")
	f.String(p+"base_url", t.BaseURL, "-> Monitoring backend base URL | 后端基础URL")
	f.String(p+"canary_url", t.CanaryURL, "-> Explicit canary URL template")
	f.String(p+"output.path", t.Output.Path, "-> Output file of the default persister | 落盘文件")
}
