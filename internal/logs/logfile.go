package logs

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxSizeMB bounds a single rotated container log file.
const DefaultMaxSizeMB = 50

// OpenLogFile returns a rotating log sink for path, suitable for passing
// to Start as the log argument.
func OpenLogFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultMaxSizeMB,
		MaxBackups: 5,
		Compress:   false,
	}
}
