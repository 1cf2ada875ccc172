package utils

import (
	"log"
	"os"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

type Logger struct {
	level  LogLevel
	logger *log.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger("info")
}

func NewLogger(levelStr string) *Logger {
	var level LogLevel
	switch levelStr {
	case "debug":
		level = DEBUG
	case "info":
		level = INFO
	case "warn":
		level = WARN
	case "error":
		level = ERROR
	default:
		level = INFO
	}

	return &Logger{
		level:  level,
		logger: log.New(os.Stdout, "", log.LstdFlags),
	}
}

// SetDefaultLogger заменяет глобальный логгер (вызывается из main после чтения конфига)
func SetDefaultLogger(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if l.level <= DEBUG {
		l.logger.Printf("[DEBUG] "+format, v...)
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= INFO {
		l.logger.Printf("[INFO] "+format, v...)
	}
}

func (l *Logger) Warn(format string, v ...interface{}) {
	if l.level <= WARN {
		l.logger.Printf("[WARN] "+format, v...)
	}
}

func (l *Logger) Error(format string, v ...interface{}) {
	if l.level <= ERROR {
		l.logger.Printf("[ERROR] "+format, v...)
	}
}

// Global logging functions
func LogDebug(msg string) {
	defaultLogger.Debug("%s", msg)
}

func LogInfo(msg string) {
	defaultLogger.Info("%s", msg)
}

func LogWarn(msg string) {
	defaultLogger.Warn("%s", msg)
}

func LogError(msg string) {
	defaultLogger.Error("%s", msg)
}

// Global format-style helpers
func LogDebugf(format string, v ...interface{}) {
	defaultLogger.Debug(format, v...)
}

func LogInfof(format string, v ...interface{}) {
	defaultLogger.Info(format, v...)
}

func LogWarnf(format string, v ...interface{}) {
	defaultLogger.Warn(format, v...)
}

func LogErrorf(format string, v ...interface{}) {
	defaultLogger.Error(format, v...)
}
