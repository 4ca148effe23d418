package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB  = 10
	maxBackups = 5
	maxAgeDays = 30
)

// New builds a service logger writing to stdout and a rotating log file.
func New(filePath, serviceName string) (zerolog.Logger, error) {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    false,
	}

	fileRotator := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}

	multiWriter := zerolog.MultiLevelWriter([]io.Writer{consoleWriter, fileRotator}...)
	l := zerolog.New(multiWriter).With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger().
		Level(zerolog.DebugLevel)

	l.Info().
		Str("logsFilePath", filePath).
		Str("serviceName", serviceName).
		Msg("Logger initialized with file rotation")

	return l, nil
}
