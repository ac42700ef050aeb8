package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"entitlement-backend/internal/parse"
	"entitlement-backend/internal/roster"
)

// CustomerStatus handles GET /api/customer/status?code=.
func (h *Handler) CustomerStatus(c *gin.Context) {
	code := parse.NormalizeCode(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	status, err := h.svc.Roster.CustomerStatus(c.Request.Context(), code)
	if errors.Is(err, roster.ErrUnknownPickupCode) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pickup code not found"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to load customer status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
