package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/store"
)

// mapComponentError maps sentinel errors from the relay's components to HTTP
// error responses.
func mapComponentError(err error) *echo.HTTPError {
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, session.ErrClosed) {
		return echo.NewHTTPError(http.StatusConflict, "session is closed")
	}
	if errors.Is(err, store.ErrBadCursor) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected component error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
