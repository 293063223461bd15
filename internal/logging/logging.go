// Package logging 统一构建进程级 zerolog 日志器
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New 按级别创建 JSON 日志器，未知级别回退到 info
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
