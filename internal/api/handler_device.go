package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"entitlement-backend/internal/mw"
	"entitlement-backend/internal/report"
)

type registerRequest struct {
	DeviceID   string          `json:"deviceId" binding:"required"`
	DeviceInfo json.RawMessage `json:"deviceInfo"`
}

// RegisterDevice handles POST /api/device/register.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return
	}

	reg, err := h.svc.Tokens.Register(c.Request.Context(), strings.TrimSpace(req.DeviceID), req.DeviceInfo)
	if err != nil {
		h.internalError(c, "device registration failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     reg.Token,
		"expiresIn": fmt.Sprintf("%dd", h.tokenTTLDays),
	})
}

// reportStatus maps an intake outcome to its HTTP status.
func (h *Handler) reportStatus(res *report.Result) int {
	switch res.Outcome {
	case report.Accepted:
		return http.StatusOK
	case report.Duplicate:
		if h.duplicateConflict {
			return http.StatusConflict
		}
		return http.StatusOK
	case report.RateLimited:
		return http.StatusTooManyRequests
	}
	switch res.Reason {
	case report.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case report.ReasonForbidden:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// SubmitReport handles POST /api/device/report.
func (h *Handler) SubmitReport(c *gin.Context) {
	bearer, _ := mw.BearerToken(c.GetHeader("Authorization"))
	sub := report.Submission{
		Bearer:         bearer,
		HeaderDeviceID: c.GetHeader("X-Device-Id"),
		RequestID:      c.GetHeader("X-Request-Id"),
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&sub.Body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_body"})
			return
		}
	}

	res, err := h.svc.Intake.Admit(c.Request.Context(), sub)
	if err != nil {
		h.internalError(c, "report intake failed", err)
		return
	}

	status := h.reportStatus(res)
	body := gin.H{"success": res.Outcome == report.Accepted || res.Outcome == report.Duplicate}
	if res.Outcome == report.Duplicate {
		body["duplicate"] = true
	}
	if res.Reason != "" {
		body["error"] = res.Reason
	} else if res.Outcome == report.RateLimited {
		body["error"] = string(report.RateLimited)
	}
	c.JSON(status, body)
}
