// Package logutil - slog-Logger und Trace-Level
//
// Dieses Modul enthaelt:
// - LevelTrace: Level unterhalb von Debug (MODELCONVERT_DEBUG=2)
// - NewLogger: TextHandler mit kurzen Quelldateinamen
// - Trace/TraceContext: Log-Ausgabe auf Trace-Level ueber den Default-Logger
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

const LevelTrace slog.Level = -8

// NewLogger erstellt einen Text-Logger. Quelldateien werden auf den
// Dateinamen gekuerzt, LevelTrace wird als TRACE ausgegeben.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				switch attr.Value.Any().(slog.Level) {
				case LevelTrace:
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

func Trace(msg string, args ...any) {
	TraceContext(context.TODO(), msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	if logger := slog.Default(); logger.Enabled(ctx, LevelTrace) {
		logger.Log(ctx, LevelTrace, msg, args...)
	}
}
