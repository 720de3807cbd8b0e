package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/relay/pkg/store"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

// PublishMessageRequest is the HTTP request body for POST /api/sessions/:id/thread.
type PublishMessageRequest struct {
	Type     string                `json:"type,omitempty"`
	Content  string                `json:"content"`
	Metadata *wire.MessageMetadata `json:"metadata,omitempty"`
}

// getThreadHandler handles GET /api/sessions/:id/thread.
// Serves the newest page of thread history; the after cursor walks toward
// older messages. History is keyed by session ID alone, so it stays
// readable after the PTY session itself has been reaped.
func (s *Server) getThreadHandler(c *echo.Context) error {
	// 1. Validate session ID
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// 2. Parse pagination params (the store clamps limit to its maximum)
	limit := store.DefaultPageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	// 3. Fetch the page
	page, err := s.store.ThreadPage(c.Request().Context(), sessionID, limit, c.QueryParam("after"))
	if err != nil {
		return mapComponentError(err)
	}

	// 4. Convert to the REST wire shape
	msgs := make([]wire.RawMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		msgs = append(msgs, wire.RawMessage{
			ID:       m.ID,
			Type:     wire.RawTypeForRole(m.Role),
			Content:  m.Content,
			Ts:       m.Ts,
			Metadata: m.Metadata,
		})
	}
	return c.JSON(http.StatusOK, &wire.HistoryResponse{
		Messages:   msgs,
		HasMore:    page.HasMore,
		Total:      page.Total,
		NextCursor: page.NextCursor,
		PrevCursor: page.PrevCursor,
	})
}

// publishThreadHandler handles POST /api/sessions/:id/thread.
// External publishers (the workspace agent, system notifications) inject
// messages into a session's thread; connected clients receive them as live
// thread_message envelopes.
func (s *Server) publishThreadHandler(c *echo.Context) error {
	// 1. Validate session ID
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// 2. Bind and validate request body
	var req PublishMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	switch req.Type {
	case "", wire.RawTypeUserInput, wire.RawTypeSystem, wire.RawTypeAgentMessage:
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unknown message type %q", req.Type))
	}

	// 3. Persist and broadcast; the hub assigns the id and timestamp
	msg, err := s.hub.Publish(c.Request().Context(), sessionID, wire.RawMessage{
		Type:     req.Type,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return mapComponentError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}
