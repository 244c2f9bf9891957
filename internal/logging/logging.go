// Package logging defines the leveled text sink consumed by the task engine
// and adapters that route it to slog or logrus.
package logging

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// LevelFatal sits above slog.LevelError. Fatal messages are recorded at this
// level; the process is never terminated by the sink.
const LevelFatal = slog.Level(12)

// Logger accepts leveled text messages. Implementations must not panic and
// must not block for long; the engine calls them from task goroutines.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Error(msg string)
	Fatal(msg string)
}

// Discard drops every message.
var Discard Logger = discard{}

type discard struct{}

func (discard) Debug(string)   {}
func (discard) Info(string)    {}
func (discard) Warning(string) {}
func (discard) Error(string)   {}
func (discard) Fatal(string)   {}

// Slog adapts a *slog.Logger.
type Slog struct {
	l *slog.Logger
}

// NewSlog wraps l. A nil l falls back to slog.Default().
func NewSlog(l *slog.Logger) *Slog {
	if l == nil {
		l = slog.Default()
	}
	return &Slog{l: l}
}

func (s *Slog) Debug(msg string)   { s.l.Debug(msg) }
func (s *Slog) Info(msg string)    { s.l.Info(msg) }
func (s *Slog) Warning(msg string) { s.l.Warn(msg) }
func (s *Slog) Error(msg string)   { s.l.Error(msg) }
func (s *Slog) Fatal(msg string)   { s.l.Log(context.Background(), LevelFatal, msg) }

// Logrus adapts a *logrus.Logger. Fatal goes through Log so logrus does not
// call its exit handler.
type Logrus struct {
	l *logrus.Logger
}

// NewLogrus wraps l. A nil l falls back to logrus.StandardLogger().
func NewLogrus(l *logrus.Logger) *Logrus {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Logrus{l: l}
}

func (g *Logrus) Debug(msg string)   { g.l.Debug(msg) }
func (g *Logrus) Info(msg string)    { g.l.Info(msg) }
func (g *Logrus) Warning(msg string) { g.l.Warn(msg) }
func (g *Logrus) Error(msg string)   { g.l.Error(msg) }
func (g *Logrus) Fatal(msg string)   { g.l.Log(logrus.FatalLevel, msg) }

// ReplaceLevel renders LevelFatal as "FATAL" in slog handler output. Pass it
// as slog.HandlerOptions.ReplaceAttr.
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
		a.Value = slog.StringValue("FATAL")
	}
	return a
}
