package adapters

import (
	"context"

	"go.uber.org/zap"
)

// LogStreamer 把执行日志写入 zap，带上任务标识
type LogStreamer struct {
	logger *zap.Logger
}

func NewLogStreamer(logger *zap.Logger, taskID, stateExecutionID string) *LogStreamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStreamer{logger: logger.With(
		zap.String("task_id", taskID),
		zap.String("state_execution_id", stateExecutionID),
	)}
}

func (s *LogStreamer) StreamLog(_ context.Context, line string) {
	s.logger.Info(line)
}
