package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// setupLogging installs a charmbracelet/log handler as the slog default.
func setupLogging(w io.Writer, level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl <= log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("nodestore exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
