package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// threadSocketHandler handles GET /ws/thread/:id.
// Upgrades to a WebSocket and hands the connection to the hub. The session
// does not have to exist in the registry: thread history outlives the PTY,
// and clients may still be following it after an idle reap.
func (s *Server) threadSocketHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		return err
	}

	// HandleThread blocks until the WebSocket closes.
	s.hub.HandleThread(c.Request().Context(), sessionID, conn)
	return nil
}
