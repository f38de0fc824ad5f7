package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/david/opportunity-scout/internal/ingest"
)

// handleCronScan runs one scan. Partial failures still answer 200 with the
// per-source breakdown; only run-level failures answer 500.
func (s *Server) handleCronScan(c echo.Context) error {
	agent := c.QueryParam("agent")
	res, err := s.Scanner.Run(c.Request().Context(), agent)
	switch {
	case errors.Is(err, ingest.ErrUnknownAgent):
		return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
	case err != nil:
		log.Printf("[cron] scan %q failed: %v", agent, err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCronReminders(c echo.Context) error {
	if s.Reminders == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "reminders are not configured"})
	}
	res, err := s.Reminders.SendDue(c.Request().Context())
	if err != nil {
		log.Printf("[cron] reminders failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "reminders": res})
}
