package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"entitlement-backend/config"
	"entitlement-backend/internal/command"
	"entitlement-backend/internal/entitlement"
	"entitlement-backend/internal/heartbeat"
	"entitlement-backend/internal/mw"
	"entitlement-backend/internal/report"
	"entitlement-backend/internal/roster"
	"entitlement-backend/internal/store"
	"entitlement-backend/internal/token"
)

// Services bundles the domain services the handlers call into.
type Services struct {
	Codec       *token.Codec
	Entitlement *entitlement.Service
	Heartbeat   *heartbeat.Service
	Commands    *command.Queue
	Tokens      *report.DeviceTokens
	Intake      *report.Intake
	Roster      *roster.Service
}

// NewServices wires every domain service on top of one store.
func NewServices(cfg *config.Config, s store.Store, notifier report.Notifier, logger *slog.Logger) Services {
	codec := token.NewCodec(token.StaticKey(cfg.Tokens.MembershipSecret))
	queue := command.NewQueue(s, logger)
	tokens := report.NewDeviceTokens(s, cfg.Tokens.DeviceTokenSecret, cfg.Tokens.OperatorTokenIssuer,
		time.Duration(cfg.Tokens.DeviceTokenTTLDays)*24*time.Hour)

	return Services{
		Codec:       codec,
		Entitlement: entitlement.NewService(s, codec, cfg.Server.Location, logger),
		Heartbeat:   heartbeat.NewService(s, queue, logger),
		Commands:    queue,
		Tokens:      tokens,
		Intake: report.NewIntake(s, tokens, report.Limits{
			HourlyLimit:        cfg.Reports.HourlyLimit,
			MaxSkew:            time.Duration(cfg.Reports.MaxSkewSeconds) * time.Second,
			MaxScreenshotBytes: cfg.Reports.MaxScreenshotBytes,
		}, notifier, logger),
		Roster: roster.NewService(s, queue, logger),
	}
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store             store.Store
	svc               Services
	webpush           *webpush.Options
	duplicateConflict bool
	tokenTTLDays      int
	logger            *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, s store.Store, svc Services, webpushOptions *webpush.Options, logger *slog.Logger) *Handler {
	return &Handler{
		store:             s,
		svc:               svc,
		webpush:           webpushOptions,
		duplicateConflict: cfg.Reports.DuplicateConflict,
		tokenTTLDays:      cfg.Tokens.DeviceTokenTTLDays,
		logger:            logger,
	}
}

// internalError logs err and answers 500 without leaking details.
func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", c.FullPath(), "trace_id", c.GetString(mw.TraceKey))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// Healthz reports whether the datastore is reachable.
func (h *Handler) Healthz(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
