package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/promozap/promozap/internal/supervisor"
)

// BotHandler exposes the session lifecycle controls.
type BotHandler struct {
	supervisor *supervisor.Supervisor
	logger     *slog.Logger
}

func NewBotHandler(log *slog.Logger, sup *supervisor.Supervisor) *BotHandler {
	return &BotHandler{
		supervisor: sup,
		logger:     log.With(slog.String("handler", "bot")),
	}
}

func (h *BotHandler) Register(e *echo.Echo) {
	e.POST("/connect-bot", h.Connect)
	e.POST("/disconnect-bot", h.Disconnect)
	e.POST("/clear-session", h.ClearSession)
	e.GET("/status", h.Status)
}

// Connect starts the supervised session. Calling it while a session is
// already running is not an error; the existing session is left alone.
func (h *BotHandler) Connect(c echo.Context) error {
	if err := h.supervisor.Start(c.Request().Context()); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			return c.JSON(http.StatusOK, map[string]string{
				"status": "already connected",
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "connecting",
	})
}

// Disconnect stops the session without touching stored credentials.
func (h *BotHandler) Disconnect(c echo.Context) error {
	if err := h.supervisor.Stop(c.Request().Context()); err != nil {
		h.logger.Warn("disconnect finished with error", slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "disconnected",
	})
}

// ClearSession purges stored credentials. Returns 409 when a purge is
// already running.
func (h *BotHandler) ClearSession(c echo.Context) error {
	if err := h.supervisor.ClearSession(c.Request().Context()); err != nil {
		if errors.Is(err, supervisor.ErrClearInFlight) {
			return echo.NewHTTPError(http.StatusConflict, "session clear already in progress")
		}
		h.logger.Error("session clear failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "session cleared",
	})
}

// Status reports the current session state.
func (h *BotHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.supervisor.Status())
}
