package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"entitlement-backend/config"
	"entitlement-backend/internal/mw"
)

// limiterIdle is how long an unused rate limit bucket is kept.
const limiterIdle = 10 * time.Minute

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(mw.Trace(), mw.Metrics(), mw.Timeout(cfg.Server.RequestTimeout))

	limiters := mw.NewLimiters(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst, limiterIdle)
	rateLimiter := mw.RateLimiter(limiters, mw.DeviceOrClientKey)

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/healthz", handler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/vapid_public_key", handler.PushKey)

	device := api.Group("")
	device.Use(rateLimiter)
	{
		device.POST("/membership/check", handler.CheckMembership)
		device.POST("/membership/heartbeat", handler.Heartbeat)
		device.POST("/membership/verify", handler.VerifyToken)
		device.POST("/device/register", handler.RegisterDevice)
		device.POST("/device/report", handler.SubmitReport)
		device.GET("/customer/status", caching, handler.CustomerStatus)
	}

	admin := api.Group("/admin")
	admin.Use(mw.OperatorAuth(cfg.Tokens.OperatorSecret, cfg.Tokens.OperatorTokenIssuer, handler.logger))
	{
		admin.POST("/codes/:code/commands", handler.EnqueueCommand)
		admin.GET("/codes/:code/commands", handler.CommandHistory)
		admin.GET("/codes/:code", handler.GetCode)
		admin.PUT("/codes/:code", handler.UpdateCode)
		admin.POST("/codes/:code/unbind", handler.UnbindCode)
		admin.POST("/customers/:id/codes", handler.GenerateCodes)
		admin.GET("/reports", handler.ListReports)

		admin.GET("/subscriptions", handler.GetSubscription)
		admin.PUT("/subscriptions", handler.PutSubscription)
		admin.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}
