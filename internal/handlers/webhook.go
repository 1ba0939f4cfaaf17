package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mailroom/internal/ingest"
	"mailroom/internal/models"
	"mailroom/internal/webhook"
)

// InboundWebhookHandler receives raw inbound-email events from the
// upstream provider. Verification runs against the raw body before
// anything else; a rejected delivery has no side effects and is not
// retried here.
// @Summary Inbound email webhook
// @Description Verified ingestion endpoint for provider email.received events
// @Tags webhook
// @Accept json
// @Produce json
// @Success 200 {object} models.WebhookResponse
// @Failure 400 {object} models.WebhookResponse
// @Failure 401 {object} models.WebhookResponse
// @Failure 500 {object} models.WebhookResponse
// @Router /api/webhooks/inbound [post]
func InboundWebhookHandler(verifier *webhook.Verifier, pipeline *ingest.Pipeline, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		body, err := io.ReadAll(req.Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.WebhookResponse{
				Error: "failed to read request body",
			})
		}

		err = verifier.Verify(body,
			req.Header.Get(webhook.HeaderID),
			req.Header.Get(webhook.HeaderTimestamp),
			req.Header.Get(webhook.HeaderSignature),
			time.Now())
		if err != nil {
			logger.Warn().Err(err).Str("remote_ip", c.RealIP()).Msg("Rejected unsigned webhook delivery")
			return c.JSON(http.StatusUnauthorized, models.WebhookResponse{
				Error: "invalid webhook signature",
			})
		}

		var event models.InboundEvent
		if err := json.Unmarshal(body, &event); err != nil {
			logger.Warn().Err(err).Msg("Malformed webhook payload")
			return c.JSON(http.StatusBadRequest, models.WebhookResponse{
				Error: "malformed payload",
			})
		}

		// Only email.received triggers ingestion; everything else is
		// acknowledged without side effects.
		if event.Type != models.EventTypeEmailReceived {
			return c.JSON(http.StatusOK, models.WebhookResponse{Received: true})
		}

		if event.Data.From == "" || len(event.Data.To) == 0 {
			logger.Warn().Str("email_id", event.Data.EmailID).Msg("Webhook payload missing envelope fields")
			return c.JSON(http.StatusBadRequest, models.WebhookResponse{
				Error: "missing required envelope fields",
			})
		}

		result, err := pipeline.ProcessInbound(req.Context(), event.Data, time.Now().UTC())
		if err != nil {
			logger.Error().Err(err).Str("email_id", event.Data.EmailID).Msg("Ingestion failed")
			return c.JSON(http.StatusInternalServerError, models.WebhookResponse{
				Error: "ingestion failed",
			})
		}

		logger.Info().
			Str("email_id", event.Data.EmailID).
			Str("thread_id", result.ThreadID).
			Bool("thread_created", result.ThreadCreated).
			Bool("duplicate", result.Duplicate).
			Msg("Inbound email processed")

		return c.JSON(http.StatusOK, models.WebhookResponse{
			Received: true,
			ThreadID: result.ThreadID,
			EmailID:  result.EmailID,
		})
	}
}
