package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"mailroom/internal/database"
	"mailroom/internal/models"
)

// PendingKnowledgeHandler lists extracted facts waiting for review.
// @Summary List pending knowledge items
// @Tags knowledge
// @Produce json
// @Success 200 {array} models.KnowledgeItem
// @Failure 500 {object} models.ErrorResponse
// @Router /api/knowledge/pending [get]
func PendingKnowledgeHandler(store *database.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		items, err := store.PendingKnowledge(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list pending knowledge"})
		}
		return c.JSON(http.StatusOK, items)
	}
}

// ApproveKnowledgeHandler promotes a pending fact to approved
// knowledge, with an optional edit applied first.
// @Summary Approve a pending knowledge item
// @Tags knowledge
// @Accept json
// @Produce json
// @Param id path string true "Knowledge item ID"
// @Param request body models.KnowledgeReviewRequest false "Optional edit"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/knowledge/{id}/approve [post]
func ApproveKnowledgeHandler(store *database.Store) echo.HandlerFunc {
	return reviewHandler(store, models.KnowledgeStatusApproved)
}

// RejectKnowledgeHandler discards a pending fact.
// @Summary Reject a pending knowledge item
// @Tags knowledge
// @Produce json
// @Param id path string true "Knowledge item ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/knowledge/{id}/reject [post]
func RejectKnowledgeHandler(store *database.Store) echo.HandlerFunc {
	return reviewHandler(store, models.KnowledgeStatusRejected)
}

func reviewHandler(store *database.Store, status string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		var req models.KnowledgeReviewRequest
		// Body is optional; ignore bind errors for empty payloads.
		_ = c.Bind(&req)

		err := store.ReviewKnowledge(c.Request().Context(), id, status, req.Title, req.Content)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "no pending knowledge item with that id"})
			}
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to review knowledge item"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}
