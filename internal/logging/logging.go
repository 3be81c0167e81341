// ABOUTME: Configures the process-wide logrus logger
// ABOUTME: Text on stdout by default, JSON when a log file is given
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is used by both formatters
const TimestampFormat = "15:04:05.000"

// Levels lists the accepted level names
var Levels = []string{"none", "error", "warn", "info", "debug", "trace"}

// Configure sets the level, formatter and output of logger.
//
// Level "none" discards all output. With an empty logFile the logger writes
// text to stdout; otherwise it writes JSON to logFile, truncating it.
// The returned file is nil unless one was opened and must be closed by the
// caller.
func Configure(logger *logrus.Logger, level string, logFile string) (*os.File, error) {
	if level == "none" {
		logger.SetOutput(io.Discard)
		logger.SetLevel(logrus.PanicLevel)
		return nil, nil
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	if logFile == "" {
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: TimestampFormat,
		})
		return nil, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: TimestampFormat})
	return f, nil
}

// ParseLevel maps a level name to a logrus level
func ParseLevel(level string) (logrus.Level, error) {
	switch level {
	case "error":
		return logrus.ErrorLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "trace":
		return logrus.TraceLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unexpected log level %q (valid: %v)", level, Levels)
	}
}
