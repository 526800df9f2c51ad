package accesslog

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"go-php-runner/logging"
)

// Logger writes one formatted line per record, either to a writer or as an
// info level slog message.
type Logger struct {
	f *Formatter

	mu  sync.Mutex
	out io.Writer

	logger *slog.Logger
}

// NewLogger sends lines through logger.
func NewLogger(f *Formatter, logger *slog.Logger) *Logger {
	return &Logger{f: f, logger: logging.OrNop(logger).With("component", "access")}
}

// NewWriterLogger writes raw lines to w, one per record.
func NewWriterLogger(f *Formatter, w io.Writer) *Logger {
	return &Logger{f: f, out: w}
}

func (l *Logger) Log(rec Record) {
	line := l.f.Format(rec)
	if l.out == nil {
		l.logger.LogAttrs(context.Background(), slog.LevelInfo, line,
			slog.Int("status", rec.Status),
			slog.String("request_id", rec.RequestID),
		)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line+"\n")
}
