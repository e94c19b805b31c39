package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stagehand-app/stagehand-backend/internal/app"
	"github.com/stagehand-app/stagehand-backend/internal/platform/shutdown"
)

// Headless pipeline node: runs the worker loops and serves only the ops
// endpoints. The public API lives on the main binary.
func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	if !application.Cfg.WorkerEnabled {
		fmt.Println("WORKER_ENABLED=false but this binary only runs the worker; nothing to do")
		os.Exit(1)
	}
	if err := application.Start(); err != nil {
		application.Log.Error("failed to start background loops", "error", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if err := application.PG.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + application.Cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			application.Log.Warn("ops server shutdown", "error", err)
		}
	}()

	application.Log.Info("worker node up", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		application.Log.Error("ops server exited", "error", err)
		os.Exit(1)
	}
}
