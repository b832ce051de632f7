package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apm-collector/cmd/server"
	"github.com/apm-collector/pkg/adapters"
	"github.com/apm-collector/pkg/config"
	"github.com/apm-collector/pkg/logger"
	"github.com/apm-collector/pkg/registers"
	"github.com/apm-collector/pkg/signal"
	"github.com/apm-collector/pkg/task"
	"github.com/apm-collector/pkg/util"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "apm-collector",
	Short: "Periodic APM metric collection engine for deployment verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			os.Exit(1)
		}
		res, err := runServer(cmd.Context(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
			os.Exit(1)
		}
		if res.Status != task.StatusSuccess.Reported() {
			os.Exit(2)
		}
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "配置文件路径")
	initServerFlags(rootCmd)
	initMonitorFlags(rootCmd)
	initTaskFlags(rootCmd)
	initLogFlags(rootCmd)
}

// runServer 组装并运行一个采集任务，阻塞直到任务终态或收到退出信号
func runServer(ctx context.Context, cfg *config.Config) (task.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	zl, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return task.Result{}, fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	util.PrintBanner("apm-collector", "ColorBlue", fmt.Sprintf("task %s (%s/%s)", cfg.Task.ID, cfg.Task.Mode, cfg.Task.Strategy))
	logger.SetDefaultCollector("main")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := registers.InitPromRegistry(ctx, cfg, logger.Named("monitor"))
	if err != nil {
		return task.Result{}, fmt.Errorf("init metrics registry: %w", err)
	}

	collab, err := newCollaborators(cfg, zl)
	if err != nil {
		return task.Result{}, err
	}
	engine, err := task.NewEngine(task.ParamsFromConfig(cfg.Task), collab,
		task.WithLogger(logger.Named("engine")),
		task.WithMetrics(tel.Engine))
	if err != nil {
		return task.Result{}, fmt.Errorf("create engine: %w", err)
	}

	httpServer := server.NewHTTPServer(&cfg.Server, logger.Named("http"), tel.Registry.Gatherer(),
		func() any { return engine.Status() },
		func() error {
			if r := engine.Result(); r.Status == task.StatusFailure.Reported() {
				return errors.New(r.ErrorMessage)
			}
			return nil
		})
	if err := httpServer.Start(); err != nil {
		return task.Result{}, fmt.Errorf("start HTTP server failed: %w", err)
	}

	go func() {
		res, err := engine.Run(ctx)
		if err != nil {
			logger.Warn("engine stopped", zap.Error(err))
			return
		}
		logger.Info("collection task finished",
			zap.String("status", res.Status),
			zap.String("error_message", res.ErrorMessage))
	}()

	signal.WaitForShutdown(zl, engine.Done(), func() error {
		// 关闭顺序：引擎 → 自身监控 → HTTP服务
		engine.Shutdown()
		engine.Wait()

		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		errAgent := tel.Agent.Shutdown(sctx)
		errHTTP := httpServer.Shutdown()
		return errors.Join(errAgent, errHTTP)
	})
	return engine.Result(), nil
}

// newCollaborators 默认协作方：环境变量解密、HTTP 拉取、JSON 归一化、JSON lines 落盘
func newCollaborators(cfg *config.Config, zl *zap.Logger) (task.Collaborators, error) {
	persister, err := adapters.NewFilePersister(cfg.Task.Output.Path, zl.Named("persister"))
	if err != nil {
		return task.Collaborators{}, err
	}
	return task.Collaborators{
		Decrypter:  adapters.NewEnvDecrypter(),
		Fetcher:    adapters.NewHTTPFetcher(nil, zl.Named("fetcher")),
		Normalizer: adapters.NewJSONNormalizer(),
		Persister:  persister,
		Logs:       adapters.NewLogStreamer(zl.Named("execution"), cfg.Task.ID, cfg.Task.Persistence.StateExecutionID),
	}, nil
}
