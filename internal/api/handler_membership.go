package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"entitlement-backend/internal/heartbeat"
	"entitlement-backend/internal/parse"
	"entitlement-backend/internal/token"
)

type checkRequest struct {
	PickupCode string `json:"pickupCode" binding:"required"`
	DeviceID   string `json:"deviceId"`
}

type checkResponse struct {
	Valid          bool            `json:"valid"`
	CustomerName   string          `json:"customerName,omitempty"`
	Plan           string          `json:"plan,omitempty"`
	StartDate      string          `json:"startDate,omitempty"`
	EndDate        string          `json:"endDate,omitempty"`
	DaysRemaining  *int            `json:"daysRemaining,omitempty"`
	GraceStatus    string          `json:"graceStatus,omitempty"`
	Message        string          `json:"message"`
	SignedToken    string          `json:"signedToken,omitempty"`
	ConfigSnapshot json.RawMessage `json:"configSnapshot,omitempty"`
}

// CheckMembership handles POST /api/membership/check.
func (h *Handler) CheckMembership(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pickupCode is required"})
		return
	}
	code := parse.NormalizeCode(req.PickupCode)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pickupCode is required"})
		return
	}

	res, err := h.svc.Entitlement.Check(c.Request.Context(), code, req.DeviceID)
	if err != nil {
		h.internalError(c, "entitlement check failed", err)
		return
	}
	if !res.Valid {
		c.JSON(http.StatusOK, checkResponse{Valid: false, Message: res.Message})
		return
	}

	days := res.DaysRemaining
	resp := checkResponse{
		Valid:         true,
		CustomerName:  res.CustomerName,
		Plan:          res.Plan,
		StartDate:     res.StartDate,
		EndDate:       res.EndDate,
		DaysRemaining: &days,
		GraceStatus:   string(res.Status),
		Message:       res.Message,
		SignedToken:   res.SignedToken,
	}
	if len(res.ConfigSnapshot) > 0 && string(res.ConfigSnapshot) != "null" {
		resp.ConfigSnapshot = json.RawMessage(res.ConfigSnapshot)
	}
	c.JSON(http.StatusOK, resp)
}

type heartbeatRequest struct {
	PickupCode      string          `json:"pickupCode"`
	DeviceID        string          `json:"deviceId"`
	DeviceModel     string          `json:"deviceModel"`
	AppVersion      string          `json:"appVersion"`
	OSVersion       string          `json:"osVersion"`
	LastPublishTime clientTime      `json:"lastPublishTime"`
	ConfigSnapshot  json.RawMessage `json:"configSnapshot"`
	MonitorData     json.RawMessage `json:"monitorData"`
}

// isoMillis renders times the way JavaScript's toISOString does.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// clientTime is a device-reported instant, sent either as an ISO-8601 string
// or as Unix milliseconds. Values that parse as neither are treated as absent.
type clientTime struct {
	Time *time.Time
}

func (ct *clientTime) UnmarshalJSON(b []byte) error {
	ct.Time = nil
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, raw); err == nil {
				ct.Time = &t
				return nil
			}
		}
	}

	if ms, err := strconv.ParseFloat(raw, 64); err == nil {
		t := time.UnixMilli(int64(ms))
		ct.Time = &t
	}
	return nil
}

type commandView struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Heartbeat handles POST /api/membership/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	code := parse.NormalizeCode(req.PickupCode)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pickupCode is required"})
		return
	}

	beat := heartbeat.Beat{
		PickupCode:      code,
		DeviceID:        req.DeviceID,
		DeviceModel:     req.DeviceModel,
		AppVersion:      req.AppVersion,
		OSVersion:       req.OSVersion,
		LastPublishTime: req.LastPublishTime.Time,
		ConfigSnapshot:  req.ConfigSnapshot,
		MonitorData:     req.MonitorData,
	}

	res, err := h.svc.Heartbeat.Heartbeat(c.Request.Context(), beat)
	if err != nil {
		h.internalError(c, "heartbeat failed", err)
		return
	}

	cmds := make([]commandView, 0, len(res.Commands))
	for _, cmd := range res.Commands {
		payload := json.RawMessage(cmd.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		cmds = append(cmds, commandView{ID: cmd.ID, Type: cmd.CommandType, Payload: payload})
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             res.Accepted,
		"serverTime":     res.ServerTime.UTC().Format(isoMillis),
		"deviceMismatch": res.DeviceMismatch,
		"commands":       cmds,
	})
}

type verifyRequest struct {
	SignedToken string `json:"signedToken" binding:"required"`
}

// VerifyToken handles POST /api/membership/verify, a diagnostic check of an
// offline token.
func (h *Handler) VerifyToken(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signedToken is required"})
		return
	}

	claims, err := h.svc.Codec.Verify(req.SignedToken)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": token.Reason(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "claims": claims})
}
