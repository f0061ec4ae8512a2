package logger

import (
	"log"

	"go.uber.org/zap"
)

// Log 全局日志实例，默认 Nop，避免未初始化时空指针
var Log = zap.NewNop()

// Init 初始化全局日志
// debug 模式使用开发配置（彩色、可读），否则使用生产配置（JSON）
func Init(debug bool) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	Log = l
}

// Sync 进程退出前刷新缓冲
func Sync() {
	_ = Log.Sync()
}
