package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})

	WithModule(name string) Logger
	WithFields(fields map[string]interface{}) Logger
}

const (
	levelDebug = 0
	levelInfo  = 1
	levelWarn  = 2
	levelError = 3
)

// NewLogger creates a leveled logger. If logFile is non-empty the output is
// appended to that file, otherwise it goes to stderr.
func NewLogger(level, logFile string) Logger {
	out := log.New(os.Stderr, "", log.LstdFlags)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			out.Printf("[WARN] cannot open log file %s, falling back to stderr: %v", logFile, err)
		} else {
			out = log.New(f, "", log.LstdFlags)
		}
	}
	return &stdLogger{level: parseLevel(level), out: out}
}

type stdLogger struct {
	level  int
	out    *log.Logger
	module string
	fields map[string]interface{}
}

func parseLevel(l string) int {
	switch strings.ToLower(l) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *stdLogger) WithModule(name string) Logger {
	clone := *l
	clone.module = name
	return &clone
}

func (l *stdLogger) WithFields(fields map[string]interface{}) Logger {
	clone := *l
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clone.fields = merged
	return &clone
}

func (l *stdLogger) logf(level int, tag, format string, v ...interface{}) {
	if l.level > level {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	if l.module != "" {
		fmt.Fprintf(&b, " [%s]", strings.ToUpper(l.module))
	}
	b.WriteString(" ")
	fmt.Fprintf(&b, format, v...)
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}
	l.out.Print(b.String())
}

func (l *stdLogger) Debugf(format string, v ...interface{}) {
	l.logf(levelDebug, "[DEBUG]", format, v...)
}

func (l *stdLogger) Infof(format string, v ...interface{}) {
	l.logf(levelInfo, "[INFO]", format, v...)
}

func (l *stdLogger) Warnf(format string, v ...interface{}) {
	l.logf(levelWarn, "[WARN]", format, v...)
}

func (l *stdLogger) Errorf(format string, v ...interface{}) {
	l.logf(levelError, "[ERROR]", format, v...)
}

func (l *stdLogger) Fatalf(format string, v ...interface{}) {
	l.out.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
