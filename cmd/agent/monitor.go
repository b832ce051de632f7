package agent

import "github.com/spf13/cobra"

func initMonitorFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.Duration("monitor.interval", defaultCfg.Monitor.Interval, "自身监控采集间隔")
	f.Bool("monitor.process.enable", defaultCfg.Monitor.Process.Enable, "采集进程自身 CPU/内存/负载")
}
