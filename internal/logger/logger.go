package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// L 全局结构化日志实例
var L *zap.Logger

// Init 初始化全局日志
// debug 模式输出到控制台，release 模式输出 JSON 到文件
func Init(mode, dir string) *zap.Logger {
	L = New(mode, dir)
	zap.ReplaceGlobals(L)
	return L
}

// New 创建日志实例
func New(mode, dir string) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if strings.EqualFold(strings.TrimSpace(mode), "debug") {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	if strings.EqualFold(strings.TrimSpace(mode), "debug") {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)
		return zap.New(core, zap.AddCaller())
	}

	syncer := zapcore.AddSync(os.Stdout)
	if dir != "" {
		syncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(dir, "flashmall.log"),
			MaxSize:    100, // MB
			MaxBackups: 7,
			MaxAge:     30, // 天
			Compress:   true,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), syncer, level)
	return zap.New(core, zap.AddCaller())
}

// Get 返回全局日志实例，未初始化时回退到 zap 全局实例
func Get() *zap.Logger {
	if L != nil {
		return L
	}
	return zap.L()
}
