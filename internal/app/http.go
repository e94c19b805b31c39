package app

import (
	"github.com/stagehand-app/stagehand-backend/internal/data/db"
	"github.com/stagehand-app/stagehand-backend/internal/http"
	httpH "github.com/stagehand-app/stagehand-backend/internal/http/handlers"
	httpMW "github.com/stagehand-app/stagehand-backend/internal/http/middleware"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/realtime"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health   *httpH.HealthHandler
	Auth     *httpH.AuthHandler
	Snapshot *httpH.SnapshotHandler
	Pipeline *httpH.PipelineHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, pg *db.PostgresService, serviceset Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(log, pg, serviceset.Bus),
		Auth:     httpH.NewAuthHandler(log, serviceset.Auth),
		Snapshot: httpH.NewSnapshotHandler(log, serviceset.Snapshot, serviceset.Pipeline),
		Pipeline: httpH.NewPipelineHandler(log, serviceset.Pipeline),
		Realtime: httpH.NewRealtimeHandler(log, hub, serviceset.Pipeline),
	}
}

func wireMiddleware(log *logger.Logger, serviceset Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, serviceset.Auth),
	}
}

func wireServer(log *logger.Logger, handlers Handlers, middleware Middleware) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:             log,
		HealthHandler:   handlers.Health,
		AuthHandler:     handlers.Auth,
		AuthMiddleware:  middleware.Auth,
		SnapshotHandler: handlers.Snapshot,
		PipelineHandler: handlers.Pipeline,
		RealtimeHandler: handlers.Realtime,
	})
}
