// Package logging adapts orchestrator.Logger onto a concrete diagnostic
// sink so cmd/asrd gets structured, leveled logging while
// pkg/orchestrator stays free of any logging dependency.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger implements orchestrator.Logger over a *logrus.Logger. It is
// written directly to the diagnostic stream passed to New, which must be
// distinct from the event-emitter stream — cmd/asrd wires this to stderr
// and the Emitter to stdout.
type LogrusLogger struct {
	log *logrus.Logger
}

// New builds a LogrusLogger writing JSON-formatted lines to w at level.
// The formatter is always JSON, whatever w is, so the diagnostic stream
// stays machine-parseable alongside the event stream.
func New(w io.Writer, level logrus.Level) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &LogrusLogger{log: l}
}

func (l *LogrusLogger) fields(args []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.log.WithFields(l.fields(args)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.log.WithFields(l.fields(args)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.log.WithFields(l.fields(args)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.log.WithFields(l.fields(args)).Error(msg)
}
