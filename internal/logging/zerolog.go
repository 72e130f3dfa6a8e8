package logging

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// zlogger adapts zerolog to Logger. The "console" format renders through
// zerolog.ConsoleWriter, anything else emits JSON lines.
type zlogger struct {
	l zerolog.Logger
}

func newZerolog(out io.Writer, level, format string) Logger {
	w := out
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(level, "warning") {
		lvl = zerolog.WarnLevel
	}
	return &zlogger{l: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

func (z *zlogger) With(fields ...Field) Logger {
	return &zlogger{l: z.l.With().Fields(toMap(fields)).Logger()}
}

func (z *zlogger) Debug(_ context.Context, msg string, fields ...Field) {
	z.l.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zlogger) Info(_ context.Context, msg string, fields ...Field) {
	z.l.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zlogger) Warn(_ context.Context, msg string, fields ...Field) {
	z.l.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zlogger) Error(_ context.Context, msg string, fields ...Field) {
	z.l.Error().Fields(toMap(fields)).Msg(msg)
}

func toMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}
