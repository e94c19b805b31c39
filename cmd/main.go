package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/stagehand-app/stagehand-backend/internal/app"
	"github.com/stagehand-app/stagehand-backend/internal/platform/shutdown"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Start(); err != nil {
		application.Log.Error("failed to start background loops", "error", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			application.Log.Warn("server shutdown", "error", err)
		}
	}()

	addr := ":" + application.Cfg.Port
	application.Log.Info("server listening", "addr", addr)
	if err := application.Run(addr); err != nil {
		application.Log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
