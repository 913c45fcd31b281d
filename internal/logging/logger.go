package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/neexbeast/cityrank/internal/config"
)

// AppName tags every log line.
const AppName = "cityrank"

// New returns a colored human-readable logger in dev and a JSON logger otherwise.
func New(w io.Writer, cfg config.Config) *slog.Logger {
	if cfg.AppEnv == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", AppName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", AppName,
		"env", cfg.AppEnv,
	)
}
