package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"mailroom/internal/database"
	"mailroom/internal/models"
)

const defaultContactLimit = 100

// ListContactsHandler returns contacts ordered by most recent
// interaction.
// @Summary List contacts
// @Tags contacts
// @Produce json
// @Param limit query int false "Max contacts to return"
// @Success 200 {array} models.Contact
// @Failure 500 {object} models.ErrorResponse
// @Router /api/contacts [get]
func ListContactsHandler(store *database.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := defaultContactLimit
		if raw := c.QueryParam("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		contacts, err := store.ListContacts(c.Request().Context(), limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list contacts"})
		}
		return c.JSON(http.StatusOK, contacts)
	}
}
