package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, init, warnings)
	LevelLive    = 2 // Live info (moves, status polls)
	LevelVerbose = 3 // Verbose (translated commands, driver calls)
	LevelTrace   = 4 // Trace (GPIO, serial frames)
)

// Fields is an alias so callers don't need to import logrus.
type Fields = logrus.Fields

var (
	mu     sync.RWMutex
	level  int
	logger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// Init sets the debug level (0-4).
// 0 = no output
// 1 = important info (startup, motor init, config warnings)
// 2 = live info (moves, stops)
// 3 = verbose (command details, driver calls)
// 4 = trace (GPIO, serial frames)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	if debugLevel < LevelOff {
		debugLevel = LevelOff
	}
	if debugLevel > LevelTrace {
		debugLevel = LevelTrace
	}
	level = debugLevel
}

// SetOutput redirects all debug output (e.g. to tee it to SSE clients).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetJSON switches to logrus' JSON formatter.
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel && minLevel > LevelOff
}

func entry(tag string) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithField("tag", tag)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		entry("info").Infof(format, args...)
	}
}

// Warn prints a recoverable problem (level 1).
func Warn(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		entry("warn").Warnf(format, args...)
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if err != nil && IsEnabled(LevelInfo) {
		entry("error").Error(err)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		entry("info").Infof("  %s = %v", name, value)
	}
}

// Summary prints an important banner (level 1).
func Summary(title string) {
	if IsEnabled(LevelInfo) {
		e := entry("info")
		e.Info("═══════════════════════════════════════")
		e.Infof("  %s", title)
		e.Info("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		entry("live").Infof(format, args...)
	}
}

// Move prints a motor movement (level 2).
func Move(steps int, direction string, rpm float64) {
	if IsEnabled(LevelLive) {
		entry("live").WithFields(Fields{"steps": steps, "direction": direction, "rpm": rpm}).Info("motor move")
	}
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		entry("verbose").Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if IsEnabled(LevelVerbose) {
		entry("verbose").Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		e := entry("verbose")
		e.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		e.Debugf("  %s", name)
		e.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		entry("verbose").Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		entry("trace").Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if IsEnabled(LevelTrace) {
		entry("gpio").WithFields(Fields{"op": operation, "pin": pin, "value": value}).Trace("gpio")
	}
}

// Serial prints a raw UART frame (level 4).
func Serial(direction string, frame []byte) {
	if IsEnabled(LevelTrace) {
		entry("serial").WithField("dir", direction).Tracef("% x", frame)
	}
}

// --- General functions ---

// WithFields returns a structured entry. The caller is responsible for
// checking the level when the fields are expensive to build.
func WithFields(f Fields) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithFields(f)
}

// Fmt returns a formatted string only if debug is enabled
// (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > LevelOff {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
