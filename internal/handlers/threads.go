package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mailroom/internal/database"
	"mailroom/internal/events"
	"mailroom/internal/ingest"
	"mailroom/internal/mailer"
	"mailroom/internal/models"
)

const defaultThreadLimit = 50

// ListThreadsHandler returns recent threads.
// @Summary List threads
// @Tags threads
// @Produce json
// @Param limit query int false "Max threads to return"
// @Success 200 {array} models.Thread
// @Failure 500 {object} models.ErrorResponse
// @Router /api/threads [get]
func ListThreadsHandler(store *database.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := defaultThreadLimit
		if raw := c.QueryParam("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		threads, err := store.ListThreads(c.Request().Context(), limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list threads"})
		}
		return c.JSON(http.StatusOK, threads)
	}
}

// GetThreadHandler returns a thread with its messages.
// @Summary Get thread
// @Tags threads
// @Produce json
// @Param id path string true "Thread ID"
// @Success 200 {object} models.ThreadDetailResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/threads/{id} [get]
func GetThreadHandler(store *database.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		thread, err := store.GetThread(ctx, id)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to fetch thread"})
		}
		if thread == nil {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "thread not found"})
		}

		emails, err := store.ListEmailsByThread(ctx, id)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to fetch thread emails"})
		}

		return c.JSON(http.StatusOK, models.ThreadDetailResponse{Thread: *thread, Emails: emails})
	}
}

// UpdateThreadFlagsHandler applies partial read/starred/archived/trashed
// updates and broadcasts thread_updated.
// @Summary Update thread flags
// @Tags threads
// @Accept json
// @Produce json
// @Param id path string true "Thread ID"
// @Param request body models.ThreadFlagsRequest true "Flag updates"
// @Success 200 {object} models.Thread
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/threads/{id}/flags [patch]
func UpdateThreadFlagsHandler(store *database.Store, hub *events.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		var req models.ThreadFlagsRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		}

		if err := store.UpdateThreadFlags(ctx, id, req); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "thread not found"})
			}
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to update thread"})
		}

		hub.Broadcast(events.Event{
			Type: events.TypeThreadUpdated,
			Data: &events.EventData{ThreadID: id},
		})

		thread, err := store.GetThread(ctx, id)
		if err != nil || thread == nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to fetch updated thread"})
		}
		return c.JSON(http.StatusOK, thread)
	}
}

// ReplyHandler sends an outbound reply on a thread and records it
// through the same persistence path as inbound messages.
// @Summary Reply on a thread
// @Tags threads
// @Accept json
// @Produce json
// @Param id path string true "Thread ID"
// @Param request body models.ReplyRequest true "Reply payload"
// @Success 200 {object} models.WebhookResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/threads/{id}/reply [post]
func ReplyHandler(store *database.Store, pipeline *ingest.Pipeline, sender *mailer.Mailer, fromEmail string, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		var req models.ReplyRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		}
		if len(req.To) == 0 || req.TextBody == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "to and text_body are required"})
		}

		thread, err := store.GetThread(ctx, id)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to fetch thread"})
		}
		if thread == nil {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "thread not found"})
		}

		subject := req.Subject
		if subject == "" {
			subject = "Re: " + thread.Subject
		}

		if err := sender.Send(req.To, req.Cc, subject, req.TextBody); err != nil {
			logger.Error().Err(err).Str("thread_id", id).Msg("Outbound send failed")
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to send reply"})
		}

		result, err := pipeline.ProcessOutbound(ctx, id, fromEmail, req.To, req.Cc, subject, req.TextBody, time.Now().UTC())
		if err != nil {
			// The mail is already out; surface the recording failure.
			logger.Error().Err(err).Str("thread_id", id).Msg("Failed to record outbound reply")
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "reply sent but not recorded"})
		}

		return c.JSON(http.StatusOK, models.WebhookResponse{
			Received: true,
			ThreadID: result.ThreadID,
			EmailID:  result.EmailID,
		})
	}
}
