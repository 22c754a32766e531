package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/identitydocumentflow/internal/app"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server stopped with error.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	app.SetupLogging(slog.LevelInfo)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close clients.", "error", err)
		}
	}()

	return a.Serve(ctx)
}
