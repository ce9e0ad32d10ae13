package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/reel/sym"
)

// AddSymbol returns a child logger whose entries all carry glyph in a
// structured field, so logs stay queryable by stage and messages stay
// clean.
//
//	poller := logger.AddSymbol(log, sym.Poll)
func AddSymbol(l *zap.SugaredLogger, glyph string) *zap.SugaredLogger {
	return l.With(FieldSymbol, glyph)
}

// AddRunnerSymbol tags a logger with the runner glyph (꩜)
func AddRunnerSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Runner)
}
