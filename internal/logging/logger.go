package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/congo-pay/congo_shop/internal/requestctx"
)

// New creates a JSON slog logger configured at the provided level. If the
// level string is invalid it defaults to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// With returns logger annotated with the request and caller identifiers found in ctx.
func With(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	if reqID := requestctx.RequestID(ctx); reqID != "" {
		logger = logger.With(slog.String("request_id", reqID))
	}
	if id, ok := requestctx.FromContext(ctx); ok && id.UserID != "" {
		logger = logger.With(slog.String("user_id", id.UserID))
	}
	return logger
}
