package transport

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/usecase"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/infrastructure"
)

// Routes bundles what the HTTP surface needs.
type Routes struct {
	Sessions    *usecase.Sessions
	Status      *usecase.StatusUseCase
	Client      infrastructure.ClientOptions
	StaticIndex string
	Metrics     http.Handler
}

// Register mounts every relay endpoint on e.
func Register(ctx context.Context, e *echo.Echo, r Routes) {
	e.GET("/", NewIndexHandler(r.StaticIndex))
	e.GET("/ws", NewWebsocketHandler(ctx, r.Sessions, r.Client))
	e.GET("/health", NewHealthHandler(r.Status))
	e.GET("/stats", NewStatsHandler(r.Status))
	if r.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(r.Metrics))
	}
}
