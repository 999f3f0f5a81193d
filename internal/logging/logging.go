// Package logging wires the named-logger convention used throughout this
// module ("system", "scheduler", "reactor", "http", ...) onto
// github.com/joeycumines/logiface, backed by zerolog through
// github.com/joeycumines/izerolog. Each subsystem grabs its own logger from
// Named once at package init, mirroring the original's
// LJRSERVER_LOG_NAME("subsystem") macro.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	root    *logiface.Logger[*izerolog.Event]
	zLevel  = zerolog.InfoLevel
	zWriter io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
)

func init() {
	rebuild()
}

func rebuild() {
	z := zerolog.New(zWriter).Level(zLevel).With().Timestamp().Logger()
	root = logiface.New[*izerolog.Event](izerolog.WithZerolog(z))
}

// Configure sets the minimum level and output format for all loggers
// obtained via Named. format is "console" or "json"; any other value falls
// back to "console". Call this once during startup, before serving traffic.
func Configure(level string, format string) {
	mu.Lock()
	defer mu.Unlock()

	zLevel = parseLevel(level)
	if strings.EqualFold(format, "json") {
		zWriter = os.Stderr
	} else {
		zWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	rebuild()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Named returns the logger for a given subsystem name, e.g. "scheduler",
// "reactor", "http", "system". The name is attached as a structured field
// on every record so subsystems can be filtered downstream.
func Named(name string) *logiface.Logger[*izerolog.Event] {
	mu.RLock()
	l := root
	mu.RUnlock()
	return l.Clone().Str("logger", name).Logger()
}
