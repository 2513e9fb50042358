package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/usecase"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/infrastructure"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewWebsocketHandler exposes /ws. Every accepted connection receives all relayed
// topics and may ask for more with {"type":"subscribe","topic":"..."}.
// ctx is the process lifetime; cancelling it closes every connection.
func NewWebsocketHandler(ctx context.Context, sessions *usecase.Sessions, opts infrastructure.ClientOptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		peerIP := c.RealIP()

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader already replied with an HTTP error
			slog.Warn("ws upgrade failed", slog.String("ip", peerIP), slog.String("reqID", requestID), slog.Any("error", err))
			return nil
		}

		client := infrastructure.NewClient(conn, opts)
		go client.WritePump()

		slog.Info("ws client connected", slog.String("clientId", client.ID()), slog.String("ip", peerIP), slog.String("reqID", requestID))
		err = sessions.Serve(ctx, client)
		if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			slog.Warn("ws client error", slog.String("clientId", client.ID()), slog.Any("error", err))
			return nil
		}
		slog.Info("ws client disconnected", slog.String("clientId", client.ID()))
		return nil
	}
}
