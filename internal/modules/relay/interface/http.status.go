package transport

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/usecase"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status string `json:"status"`
	domain.RelayStatus
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	domain.RelayStatus
	Topics []domain.TopicStatus `json:"topics"`
}

func NewHealthHandler(status *usecase.StatusUseCase) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{Status: "healthy", RelayStatus: status.Execute()})
	}
}

func NewStatsHandler(status *usecase.StatusUseCase) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, StatsResponse{RelayStatus: status.Execute(), Topics: status.Topics()})
	}
}

const indexNotFound = "<h1>Error: index.html not found</h1>"

// NewIndexHandler serves the dashboard page from path.
func NewIndexHandler(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("index page unreadable", slog.String("path", path), slog.Any("error", err))
			}
			return c.HTML(http.StatusNotFound, indexNotFound)
		}
		return c.File(path)
	}
}
