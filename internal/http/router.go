package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/stagehand-app/stagehand-backend/internal/http/handlers"
	httpMW "github.com/stagehand-app/stagehand-backend/internal/http/middleware"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	SnapshotHandler *httpH.SnapshotHandler
	PipelineHandler *httpH.PipelineHandler
	RealtimeHandler *httpH.RealtimeHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("stagehand"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics())

	// Ops surface
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/auth/pair", cfg.AuthHandler.Pair)
			api.POST("/auth/token", cfg.AuthHandler.Token)
		}
	}

	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Snapshots
		if cfg.SnapshotHandler != nil {
			protected.POST("/snapshots", cfg.SnapshotHandler.Ingest)
			protected.GET("/snapshots", cfg.SnapshotHandler.List)
			protected.GET("/snapshots/:snapshotId", cfg.SnapshotHandler.Get)
			protected.GET("/snapshots/:snapshotId/ranking", cfg.SnapshotHandler.Ranking)
		}

		// Pipeline
		if cfg.PipelineHandler != nil {
			protected.POST("/pipeline/:snapshotId", cfg.PipelineHandler.Trigger)
			protected.GET("/pipeline/:snapshotId/status", cfg.PipelineHandler.Status)
			protected.POST("/pipeline/:snapshotId/retry", cfg.PipelineHandler.Retry)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		}
	}

	return r
}
