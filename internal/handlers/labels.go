package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mailroom/internal/database"
	"mailroom/internal/events"
	"mailroom/internal/models"
)

// ApplyLabelHandler applies a label to a thread on behalf of the user.
// Re-applying an existing label is a no-op, not an error.
// @Summary Apply label to thread
// @Tags labels
// @Accept json
// @Produce json
// @Param id path string true "Thread ID"
// @Param request body models.ApplyLabelRequest true "Label to apply"
// @Success 200 {object} models.ThreadLabel
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/threads/{id}/labels [post]
func ApplyLabelHandler(store *database.Store, hub *events.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		threadID := c.Param("id")

		var req models.ApplyLabelRequest
		if err := c.Bind(&req); err != nil || req.LabelID == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "label_id is required"})
		}

		applied, err := store.ApplyLabel(c.Request().Context(), threadID, req.LabelID, models.AppliedByUser, nil)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to apply label"})
		}

		if applied {
			hub.Broadcast(events.Event{
				Type: events.TypeLabelChanged,
				Data: &events.EventData{ThreadID: threadID, LabelID: req.LabelID},
			})
		}

		return c.JSON(http.StatusOK, models.ThreadLabel{
			ThreadID:  threadID,
			LabelID:   req.LabelID,
			AppliedBy: models.AppliedByUser,
		})
	}
}

// RemoveLabelHandler removes a label from a thread.
// @Summary Remove label from thread
// @Tags labels
// @Produce json
// @Param id path string true "Thread ID"
// @Param labelId path string true "Label ID"
// @Success 204
// @Failure 500 {object} models.ErrorResponse
// @Router /api/threads/{id}/labels/{labelId} [delete]
func RemoveLabelHandler(store *database.Store, hub *events.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		threadID := c.Param("id")
		labelID := c.Param("labelId")

		if err := store.RemoveLabel(c.Request().Context(), threadID, labelID); err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to remove label"})
		}

		hub.Broadcast(events.Event{
			Type: events.TypeLabelChanged,
			Data: &events.EventData{ThreadID: threadID, LabelID: labelID},
		})

		return c.NoContent(http.StatusNoContent)
	}
}
