// Package logging builds the structured slog.Logger shared by the fwdcastd
// relay and the fwdcast origin agent.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New builds a slog.Logger writing compact text records to stdout, and
// additionally to logFile if non-empty. level is one of "debug", "info",
// "warn", "error"; anything else defaults to "info".
func New(level, logFile string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	return slog.New(handler), nil
}
