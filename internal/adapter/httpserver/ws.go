package httpserver

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	maxMessageSize   = 4096
	closeWriteWindow = time.Second
)

// handleWebSocket authenticates, applies connection limits, upgrades and then
// pumps inbound frames into the partition hub until the socket closes.
func (s *Server) handleWebSocket(c echo.Context) error {
	identity, err := s.auth.Authenticate(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(err)
	}

	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		slog.Warn("WebSocket connection rejected", "ip", ip, "reason", string(reason))
		return echo.NewHTTPError(http.StatusTooManyRequests, string(reason))
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.Debug("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}
	conn.SetReadLimit(maxMessageSize)

	ctx := c.Request().Context()
	handle, err := s.directory.Connect(ctx, identity, conn)
	if err != nil {
		slog.WarnContext(ctx, "Session rejected", "user_id", identity.UserID, "partition", identity.Partition(), "error", err)
		rejectConn(conn, err)
		return nil
	}

	slog.DebugContext(ctx, "Session opened",
		"user_id", identity.UserID,
		"partition", handle.Partition,
		"session_id", handle.SessionID.String(),
		"subscriptions", handle.Subscriptions,
	)

	defer s.directory.Disconnect(handle.Partition, handle.SessionID)
	conn.SetPingHandler(func(appData string) error {
		s.directory.Touch(handle.Partition, handle.SessionID)
		return pong(conn, appData)
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read failed", "session_id", handle.SessionID.String(), "error", err)
			}
			return nil
		}
		// Binary frames go to the hub too: they count as activity and are
		// rejected there as malformed.
		if err := s.directory.HandleMessage(handle.Partition, handle.SessionID, data); err != nil {
			slog.DebugContext(ctx, "Message not delivered to hub", "session_id", handle.SessionID.String(), "error", err)
			return nil
		}
	}
}

// pong answers a ping control frame the way the default handler does.
func pong(conn *websocket.Conn, appData string) error {
	err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(closeWriteWindow))
	var netErr net.Error
	if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil
	}
	return err
}

// rejectConn closes a connection the hub refused. The close code tells the
// client whether reconnecting later can succeed.
func rejectConn(conn *websocket.Conn, err error) {
	code := websocket.CloseInternalServerErr
	if errors.Is(err, domain.ErrPartitionFull) || errors.Is(err, domain.ErrHubStopped) {
		code = websocket.CloseTryAgainLater
	}
	msg := websocket.FormatCloseMessage(code, err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWindow))
	_ = conn.Close()
}
