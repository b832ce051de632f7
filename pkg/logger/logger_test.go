package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apm-collector/pkg/config"
	"github.com/apm-collector/pkg/logger"
)

// mockFatalHook 捕获 fatal 日志（不退出进程）
type mockFatalHook struct {
	called bool
}

func (h *mockFatalHook) Hook(e zapcore.Entry) error {
	if e.Level == zapcore.FatalLevel {
		h.called = true
	}
	return nil
}

func TestLoggerLevels(t *testing.T) {
	cfg := &config.ZapLogConfig{
		Level:   "debug",
		Format:  "console",
		Path:    t.TempDir(),
		MaxSize: 10,
		MaxAge:  1,
	}

	l, err := logger.InitLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)

	logger.SetDefaultCollector("test")
	assert.Equal(t, "test", logger.GetDefaultCollector())

	// 普通日志
	logger.Debug("debug msg")
	logger.Info("info msg", zap.String("k", "v"))
	logger.Warn("warn msg")
	logger.Error("error msg")

	// Panic 测试
	assert.Panics(t, func() { logger.Panic("panic msg") })

	// Fatal 测试（使用 zap.Hooks + WithFatalHook，不触发 os.Exit）
	hook := &mockFatalHook{}
	fl := logger.GetLogger().WithOptions(zap.Hooks(hook.Hook), zap.WithFatalHook(zapcore.WriteThenGoexit))
	done := make(chan struct{})
	go func() {
		defer close(done)
		fl.Fatal("fatal msg")
	}()
	<-done
	assert.True(t, hook.called, "fatal hook was not triggered")

	assert.NotNil(t, logger.Named("engine"))
	_ = logger.Sync()
}
