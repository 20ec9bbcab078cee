package logging

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow logging surface the transport core consumes. CC
// carries congestion-control visibility separately so it can be filtered.
type Logger interface {
	Debug(msg string)
	DebugBuffer(label string, data []byte)
	CC(msg string)
}

type logrusLogger struct {
	l *logrus.Logger
}

// New builds a logrus-backed Logger at the given level ("debug", "info",
// "warn", ...). Unknown levels fall back to info.
func New(level string) Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &logrusLogger{l: l}
}

func (g *logrusLogger) Debug(msg string) {
	g.l.Debug(msg)
}

func (g *logrusLogger) DebugBuffer(label string, data []byte) {
	if g.l.IsLevelEnabled(logrus.DebugLevel) {
		g.l.WithField("bytes", hex.EncodeToString(data)).Debug(label)
	}
}

func (g *logrusLogger) CC(msg string) {
	g.l.WithField("subsystem", "cc").Debug(msg)
}

// Nop discards everything. Useful default for tests and library callers.
type Nop struct{}

func (Nop) Debug(string)               {}
func (Nop) DebugBuffer(string, []byte) {}
func (Nop) CC(string)                  {}
