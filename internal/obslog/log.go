// Package obslog is the runtime's structured logging wrapper, promoting
// logrus (already present in this dependency lineage via the
// sockstats/conniver tcpinfo exporters) to a direct, project-wide logger
// rather than the stdlib log package the block-device teacher used.
package obslog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger every model and demo binary takes as
// an optional dependency. A nil *Logger is not valid; use Default() or
// New() to obtain one.
type Logger struct {
	entry *logrus.Entry
}

var (
	mu      sync.RWMutex
	fall    *Logger
)

// New builds a Logger with its own set of default fields (e.g.
// "instance"), suitable for handing to one runner instance so its lines
// are distinguishable from another instance sharing the same process.
func New(fields logrus.Fields) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: l.WithFields(fields)}
}

// Default returns the package-level logger, creating it on first use.
func Default() *Logger {
	mu.RLock()
	if fall != nil {
		defer mu.RUnlock()
		return fall
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if fall == nil {
		fall = New(logrus.Fields{})
	}
	return fall
}

// SetDefault overrides the package-level logger, e.g. to raise verbosity
// from a CLI's -v flag.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	fall = l
}

// SetLevel adjusts the minimum level the underlying logrus logger emits.
func (l *Logger) SetLevel(level logrus.Level) {
	l.entry.Logger.SetLevel(level)
}

// With returns a child logger carrying additional structured fields,
// e.g. log.With(logrus.Fields{"conn": connUID}).
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debug(msg string, fields logrus.Fields) { l.entry.WithFields(fields).Debug(msg) }
func (l *Logger) Info(msg string, fields logrus.Fields)  { l.entry.WithFields(fields).Info(msg) }
func (l *Logger) Warn(msg string, fields logrus.Fields)  { l.entry.WithFields(fields).Warn(msg) }
func (l *Logger) Error(msg string, fields logrus.Fields) { l.entry.WithFields(fields).Error(msg) }
