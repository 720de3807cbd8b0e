package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createSessionHandler handles POST /api/sessions.
// Returns the new session's metadata; the PTY itself is spawned lazily on
// the first terminal attach.
func (s *Server) createSessionHandler(c *echo.Context) error {
	sess := s.sessions.Create()
	return c.JSON(http.StatusCreated, sess.Info())
}

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.sessions.List())
}

// getSessionHandler handles GET /api/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return mapComponentError(err)
	}
	return c.JSON(http.StatusOK, sess.Info())
}

// deleteSessionHandler handles DELETE /api/sessions/:id.
// Tears down the PTY and purges the session's thread history. The idle
// reaper only reclaims the PTY and leaves history in place.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.sessions.Delete(id); err != nil {
		return mapComponentError(err)
	}
	if err := s.store.DeleteSession(c.Request().Context(), id); err != nil {
		slog.Warn("Failed to delete session history", "session_id", id, "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}
