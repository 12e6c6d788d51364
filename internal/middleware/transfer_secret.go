package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/logger"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

// TransferSecretHeader carries the secret shared with the transfer detection collaborator.
const TransferSecretHeader = "X-Transfer-Secret"

// SharedSecret authenticates machine callers presenting secret in TransferSecretHeader.
// An empty secret rejects every request.
func SharedSecret(secret string) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		presented := []byte(c.GetHeader(TransferSecretHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid transfer secret"))
			c.Abort()
			return
		}
		c.Set(logger.ActorKey, "transfer-detector")
		c.Next()
	}
}
