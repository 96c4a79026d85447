package utils

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig rotated log file parameters
type LogFileConfig struct {
	// Path log file path
	Path string
	// MaxSizeMB rotate once the file reaches this size
	MaxSizeMB int
	// MaxBackups number of rotated files to keep
	MaxBackups int
	// MaxAgeDays rotated files older than this are removed
	MaxAgeDays int
}

/*
NewRotatingLogFile define a size rotated log file

	@param config LogFileConfig - log file parameters
	@returns the log file writer
*/
func NewRotatingLogFile(config LogFileConfig) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   true,
	}, nil
}
