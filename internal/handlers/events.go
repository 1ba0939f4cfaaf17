package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mailroom/internal/events"
)

// EventStreamHandler serves the long-lived SSE connection. Each
// connected client gets its own registry entry; a failed write
// deregisters only that client.
// @Summary Event stream
// @Description Server-sent events for new_email, thread_updated, label_changed, and ping
// @Tags events
// @Produce text/event-stream
// @Success 200
// @Router /api/events [get]
func EventStreamHandler(hub *events.Hub, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		client := hub.Subscribe()
		defer hub.Unsubscribe(client)

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-client.C:
				if !ok {
					return nil
				}

				payload, err := json.Marshal(event)
				if err != nil {
					logger.Warn().Err(err).Msg("Failed to encode stream event")
					continue
				}
				if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
					// Broken pipe: drop this client, others are unaffected.
					return nil
				}
				res.Flush()
			}
		}
	}
}
