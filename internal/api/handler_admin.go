package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"entitlement-backend/internal/command"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/mw"
	"entitlement-backend/internal/parse"
	"entitlement-backend/internal/roster"
	"entitlement-backend/internal/store"
)

type enqueueRequest struct {
	CommandType string          `json:"commandType" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
}

// EnqueueCommand handles POST /api/admin/codes/:code/commands.
func (h *Handler) EnqueueCommand(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commandType is required"})
		return
	}
	code := parse.NormalizeCode(c.Param("code"))

	id, err := h.svc.Commands.Enqueue(c.Request.Context(), code, req.CommandType, req.Payload)
	switch {
	case errors.Is(err, command.ErrUnknownKind), errors.Is(err, command.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, command.ErrUnknownPickupCode):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.internalError(c, "failed to enqueue command", err)
		return
	}

	h.svc.Roster.LogCommand(c.Request.Context(), c.GetString(mw.OperatorKey), code, req.CommandType, id)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type commandHistoryItem struct {
	ID        int64               `json:"id"`
	Type      string              `json:"type"`
	Payload   json.RawMessage     `json:"payload"`
	Status    model.CommandStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	SentAt    *time.Time          `json:"sentAt"`
}

func historyItems(cmds []model.DeviceCommand) []commandHistoryItem {
	items := make([]commandHistoryItem, 0, len(cmds))
	for _, cmd := range cmds {
		items = append(items, commandHistoryItem{
			ID:        cmd.ID,
			Type:      cmd.CommandType,
			Payload:   json.RawMessage(cmd.Payload),
			Status:    cmd.Status,
			CreatedAt: cmd.CreatedAt,
			SentAt:    cmd.SentAt,
		})
	}
	return items
}

// CommandHistory handles GET /api/admin/codes/:code/commands?limit=.
func (h *Handler) CommandHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	cmds, err := h.svc.Commands.History(c.Request.Context(), parse.NormalizeCode(c.Param("code")), limit)
	if err != nil {
		h.internalError(c, "failed to load command history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": historyItems(cmds)})
}

type codeView struct {
	PickupCode      string          `json:"pickupCode"`
	CustomerID      int64           `json:"customerId"`
	DeviceID        *string         `json:"deviceId"`
	IsActive        bool            `json:"isActive"`
	DeviceAlias     string          `json:"deviceAlias"`
	DeviceModel     string          `json:"deviceModel"`
	AppVersion      string          `json:"appVersion"`
	OSVersion       string          `json:"osVersion"`
	LastHeartbeat   *time.Time      `json:"lastHeartbeat"`
	LastPublishTime *time.Time      `json:"lastPublishTime"`
	ConfigSnapshot  json.RawMessage `json:"configSnapshot,omitempty"`
	MonitorData     json.RawMessage `json:"monitorData,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func newCodeView(pc *model.PickupCode) codeView {
	v := codeView{
		PickupCode:      pc.Code,
		CustomerID:      pc.CustomerID,
		DeviceID:        pc.DeviceID,
		IsActive:        pc.IsActive,
		DeviceAlias:     pc.DeviceAlias,
		DeviceModel:     pc.DeviceModel,
		AppVersion:      pc.AppVersion,
		OSVersion:       pc.OSVersion,
		LastHeartbeat:   pc.LastHeartbeat,
		LastPublishTime: pc.LastPublishTime,
		CreatedAt:       pc.CreatedAt,
	}
	if len(pc.ConfigSnapshot) > 0 && string(pc.ConfigSnapshot) != "null" {
		v.ConfigSnapshot = json.RawMessage(pc.ConfigSnapshot)
	}
	if len(pc.MonitorData) > 0 && string(pc.MonitorData) != "null" {
		v.MonitorData = json.RawMessage(pc.MonitorData)
	}
	return v
}

// GetCode handles GET /api/admin/codes/:code.
func (h *Handler) GetCode(c *gin.Context) {
	d, err := h.svc.Roster.Detail(c.Request.Context(), parse.NormalizeCode(c.Param("code")))
	if errors.Is(err, roster.ErrUnknownPickupCode) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "failed to load pickup code", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":     newCodeView(d.Code),
		"isOnline": d.IsOnline,
		"commands": historyItems(d.Commands),
	})
}

type updateCodeRequest struct {
	IsActive    *bool   `json:"isActive"`
	DeviceAlias *string `json:"deviceAlias"`
}

// UpdateCode handles PUT /api/admin/codes/:code.
func (h *Handler) UpdateCode(c *gin.Context) {
	var req updateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.IsActive == nil && req.DeviceAlias == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	pc, err := h.svc.Roster.UpdateCode(c.Request.Context(), c.GetString(mw.OperatorKey),
		parse.NormalizeCode(c.Param("code")), store.CodeUpdate{IsActive: req.IsActive, DeviceAlias: req.DeviceAlias})
	if errors.Is(err, roster.ErrUnknownPickupCode) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "failed to update pickup code", err)
		return
	}
	c.JSON(http.StatusOK, newCodeView(pc))
}

// UnbindCode handles POST /api/admin/codes/:code/unbind.
func (h *Handler) UnbindCode(c *gin.Context) {
	err := h.svc.Roster.Unbind(c.Request.Context(), c.GetString(mw.OperatorKey), parse.NormalizeCode(c.Param("code")))
	if errors.Is(err, roster.ErrUnknownPickupCode) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "failed to unbind device", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type generateCodesRequest struct {
	Count  int    `json:"count" binding:"required"`
	Prefix string `json:"prefix"`
}

// GenerateCodes handles POST /api/admin/customers/:id/codes.
func (h *Handler) GenerateCodes(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
		return
	}
	var req generateCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count is required"})
		return
	}

	codes, err := h.svc.Roster.GenerateCodes(c.Request.Context(), c.GetString(mw.OperatorKey), customerID, req.Count, req.Prefix)
	switch {
	case errors.Is(err, roster.ErrUnknownCustomer):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, roster.ErrInvalidCount), errors.Is(err, roster.ErrInvalidPrefix):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, roster.ErrDeviceLimit):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.internalError(c, "failed to generate codes", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"codes": codes})
}

type reportItem struct {
	ID                int64              `json:"id"`
	RequestID         string             `json:"requestId"`
	DeviceID          string             `json:"deviceId"`
	Status            model.ReportStatus `json:"status"`
	Reason            string             `json:"reason,omitempty"`
	Platform          string             `json:"platform"`
	Step              string             `json:"step"`
	ErrorMsg          string             `json:"errorMsg"`
	ScreenshotOmitted bool               `json:"screenshotOmitted"`
	State             string             `json:"state"`
	AIAction          string             `json:"aiAction"`
	AIResult          string             `json:"aiResult"`
	Extra             json.RawMessage    `json:"extra,omitempty"`
	ClientTimestamp   *time.Time         `json:"clientTimestamp"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// ListReports handles GET /api/admin/reports.
func (h *Handler) ListReports(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	f := store.ReportFilter{
		DeviceID: c.Query("deviceId"),
		Platform: c.Query("platform"),
		Page:     page,
		Limit:    limit,
	}.Normalize()

	reports, total, err := h.svc.Intake.List(c.Request.Context(), f)
	if err != nil {
		h.internalError(c, "failed to list reports", err)
		return
	}

	items := make([]reportItem, 0, len(reports))
	for _, r := range reports {
		item := reportItem{
			ID:                r.ID,
			RequestID:         r.RequestID,
			DeviceID:          r.DeviceID,
			Status:            r.Status,
			Reason:            r.Reason,
			Platform:          r.Platform,
			Step:              r.Step,
			ErrorMsg:          r.ErrorMsg,
			ScreenshotOmitted: r.ScreenshotOmitted,
			State:             r.State,
			AIAction:          r.AIAction,
			AIResult:          r.AIResult,
			ClientTimestamp:   r.ClientTimestamp,
			CreatedAt:         r.CreatedAt,
		}
		if len(r.Extra) > 0 && string(r.Extra) != "null" {
			item.Extra = json.RawMessage(r.Extra)
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"reports": items, "total": total, "page": f.Page, "limit": f.Limit})
}
