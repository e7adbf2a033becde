// Package zerolog adapts a zerolog.Logger to aigate.Logger, so gate
// denials and resolver conflict warnings come out as structured JSON
// alongside the host application's own logs.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/glintcare/aigate/pkg/aigate"
)

// Logger forwards aigate log calls to a zerolog.Logger. Field values go
// through Interface, so tenant IDs, quota types, and counts keep their
// native types in the output.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger. Level filtering stays with
// the wrapped logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...aigate.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...aigate.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...aigate.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...aigate.Field) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []aigate.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
