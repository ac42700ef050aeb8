package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"entitlement-backend/internal/model"
	"entitlement-backend/internal/mw"
	"entitlement-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription handles the creation or replacement of an operator's
// alert subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub := model.OperatorSubscription{
		Endpoint:  req.Endpoint,
		P256DH:    req.P256DH,
		Auth:      req.Auth,
		Operator:  c.GetString(mw.OperatorKey),
		CreatedAt: time.Now(),
	}
	if err := h.store.PutSubscription(c.Request.Context(), &sub); err != nil {
		h.internalError(c, "failed to save subscription", err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.internalError(c, "failed to delete subscription", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			// Endpoints are matched as sent, without URL decoding.
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription reports whether the given endpoint is subscribed.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	subs, err := h.store.ListSubscriptions(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to load subscriptions", err)
		return
	}
	for _, s := range subs {
		if s.Endpoint == raw {
			c.JSON(http.StatusOK, gin.H{"endpoint": s.Endpoint, "operator": s.Operator, "createdAt": s.CreatedAt})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
}

// PushKey handles GET /api/vapid_public_key. Operator consoles use it to
// subscribe to report alerts; alerts are off when no key pair is configured.
func (h *Handler) PushKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "publicKey": h.webpush.VAPIDPublicKey})
}
