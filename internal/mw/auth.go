package mw

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"entitlement-backend/internal/metrics"
)

// OperatorKey is the gin context key holding the authenticated operator name.
const OperatorKey = "operator"

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(header string) (string, bool) {
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[len("Bearer "):])
	return tok, tok != ""
}

// OperatorAuth requires an HS256 operator token issued by issuer and stores
// its subject under OperatorKey.
func OperatorAuth(secret, issuer string, logger *slog.Logger) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			metrics.OperatorAuthTotal.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %T", t.Method)
			}
			return key, nil
		}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil || claims.Subject == "" {
			metrics.OperatorAuthTotal.WithLabelValues("failure").Inc()
			logger.Warn("operator auth rejected", "error", err, "path", c.FullPath(), "trace_id", c.GetString(TraceKey))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		metrics.OperatorAuthTotal.WithLabelValues("success").Inc()
		c.Set(OperatorKey, claims.Subject)
		c.Next()
	}
}

// IssueOperatorToken mints an operator bearer token.
func IssueOperatorToken(secret, issuer, operator string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   operator,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
