// Package logging builds the service logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hackgods/consultation-scheduling/internal/config"
)

// New returns a zerolog logger writing to stdout and, when LOG_FILE is set,
// to a size-rotated file.
func New(cfg config.Config, component string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var stdout io.Writer = os.Stdout
	if useConsole(cfg) {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{stdout}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Str("env", cfg.Env).
		Logger()
}

func useConsole(cfg config.Config) bool {
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		return false
	case "console":
		return true
	}
	return cfg.Env == "dev"
}
