package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apm-collector/pkg/config"
	"github.com/apm-collector/pkg/goid"
)

type Logger = zap.Logger

var (
	baseLogger    *zap.Logger
	defaultFields = struct {
		Collector string
	}{}
	loggerInitOnce    sync.Once
	loggerInitialized bool
	mu                sync.RWMutex
)

// InitLogger 初始化全局日志（只生效一次），返回底层 *zap.Logger
func InitLogger(cfg *config.ZapLogConfig) (*zap.Logger, error) {
	var err error
	loggerInitOnce.Do(func() {
		level := parseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0755); err != nil {
			return
		}

		opts := []rotatelogs.Option{
			rotatelogs.WithRotationTime(24 * time.Hour),
			rotatelogs.WithRotationSize(int64(cfg.MaxSize) * 1024 * 1024),
		}
		// rotatelogs 不允许同时设置 MaxAge 与 RotationCount
		if cfg.MaxAge > 0 {
			opts = append(opts, rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour))
		} else {
			opts = append(opts, rotatelogs.WithRotationCount(uint(cfg.MaxBackup)))
		}
		writer, wErr := rotatelogs.New(filepath.Join(cfg.Path, "collector-%Y%m%d.log"), opts...)
		if wErr != nil {
			err = wErr
			return
		}

		// 控制台彩色时间
		customTimeEncoderConsole := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
		}

		// JSON 日志纯文本时间
		customTimeEncoderJSON := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
		}

		coloredLevelEncoder := func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			var levelStr string
			switch level {
			case zapcore.DebugLevel:
				levelStr = "\033[36mDEBUG\033[0m"
			case zapcore.InfoLevel:
				levelStr = "\033[32mINFO \033[0m"
			case zapcore.WarnLevel:
				levelStr = "\033[33mWARN \033[0m"
			case zapcore.ErrorLevel:
				levelStr = "\033[31mERROR\033[0m"
			case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
				levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
			default:
				levelStr = "UNK  "
			}
			enc.AppendString(levelStr)
		}

		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.TimeKey = "timestamp"
		jsonCfg.EncodeTime = customTimeEncoderJSON
		jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		jsonEncoder := zapcore.NewJSONEncoder(jsonCfg)

		// 标准输出按配置格式：console 彩色 / json
		stdoutEncoder := jsonEncoder
		if strings.EqualFold(cfg.Format, "console") {
			consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
			consoleEncoderCfg.ConsoleSeparator = " "
			consoleEncoderCfg.EncodeLevel = coloredLevelEncoder
			consoleEncoderCfg.EncodeTime = customTimeEncoderConsole

			// Caller 两级路径
			consoleEncoderCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
				rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
				enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
			}
			stdoutEncoder = zapcore.NewConsoleEncoder(consoleEncoderCfg)
		}

		core := zapcore.NewTee(
			zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(writer), level),
		)

		mu.Lock()
		baseLogger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		loggerInitialized = true
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return GetLogger(), nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "pan", "panic":
		return zapcore.PanicLevel
	case "fat", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func SetDefaultCollector(collector string) {
	mu.Lock()
	defer mu.Unlock()
	defaultFields.Collector = collector
}

func GetDefaultCollector() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultFields.Collector
}

func getDefaultFields() []zapcore.Field {
	return []zapcore.Field{
		zap.String("collector", GetDefaultCollector()),
		zap.String("goid", strconv.FormatUint(goid.GetGID(), 10)),
	}
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	l := GetLogger().WithOptions(zap.AddCallerSkip(2))
	merged := append(getDefaultFields(), fields...)

	switch level {
	case zap.DebugLevel:
		l.Debug(msg, merged...)
	case zap.InfoLevel:
		l.Info(msg, merged...)
	case zap.WarnLevel:
		l.Warn(msg, merged...)
	case zap.ErrorLevel:
		l.Error(msg, merged...)
	case zap.PanicLevel:
		l.Panic(msg, merged...)
	case zap.FatalLevel:
		l.Fatal(msg, merged...)
	}
}

func Debug(msg string, fields ...zapcore.Field) {
	log(zap.DebugLevel, msg, fields...)
}
func Info(msg string, fields ...zapcore.Field) {
	log(zap.InfoLevel, msg, fields...)
}
func Warn(msg string, fields ...zapcore.Field) {
	log(zap.WarnLevel, msg, fields...)
}
func Error(msg string, fields ...zapcore.Field) {
	log(zap.ErrorLevel, msg, fields...)
}
func Panic(msg string, fields ...zapcore.Field) {
	log(zap.PanicLevel, msg, fields...)
}
func Fatal(msg string, fields ...zapcore.Field) {
	log(zap.FatalLevel, msg, fields...)
}

func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if !loggerInitialized {
		return nil
	}
	return baseLogger.Sync()
}

// GetLogger 返回全局 *zap.Logger，未初始化时返回 Nop，避免启动早期 panic
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !loggerInitialized {
		return zap.NewNop()
	}
	return baseLogger
}

// Named 返回带组件名的子 logger，注入到各组件中使用
func Named(component string) *zap.Logger {
	return GetLogger().Named(component).With(zap.String("collector", component))
}
