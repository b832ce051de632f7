package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout 关闭逻辑的最长等待时间
const shutdownTimeout = 10 * time.Second

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或 done 关闭（任务自然结束），然后执行优雅关闭
func WaitForShutdown(logger *zap.Logger, done <-chan struct{}, shutdownFunc func() error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 阻塞等待信号或任务结束
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-done:
		logger.Info("task reached terminal state, shutting down")
	}

	// 超时控制关闭逻辑
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- shutdownFunc()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Error("shutdown timed out", zap.Error(ctx.Err()))
	}
	logger.Info("shutdown completed")
}
