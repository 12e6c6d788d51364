package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

// RateLimiter counts attempts of an action per identifier.
type RateLimiter interface {
	Check(ctx context.Context, action models.RateLimitAction, identifier string) (*models.RateLimitResult, error)
}

// IdentifierFunc picks the rate limit subject of a request.
type IdentifierFunc func(c *gin.Context) string

// ByClientIP limits per remote address.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByUser limits per authenticated user, falling back to the remote address.
func ByUser(c *gin.Context) string {
	if claims := Claims(c); claims != nil && claims.UserID != "" {
		return "user:" + claims.UserID
	}
	return "ip:" + c.ClientIP()
}

// RateLimit rejects requests beyond the action's budget with 429. The limiter
// failing lets the request through.
func RateLimit(limiter RateLimiter, action models.RateLimitAction, identify IdentifierFunc, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identify == nil {
		identify = ByClientIP
	}

	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		result, err := limiter.Check(c.Request.Context(), action, identify(c))
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("action", string(action)), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))

		if !result.Success {
			response.Error(c, appErrors.RateLimited(time.Until(result.Reset)))
			c.Abort()
			return
		}
		c.Next()
	}
}
