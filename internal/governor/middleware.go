package governor

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "tonegate/pkg/errors"
)

// Admitter is either limiter shape.
type Admitter interface {
	Admit(ctx context.Context, identity string) Verdict
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. Identity is the authenticated user id when present, else client IP.
func Middleware(limiter Admitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString("user_id")
		if identity == "" {
			identity = c.ClientIP()
		}

		verdict := limiter.Admit(c.Request.Context(), identity)
		if !verdict.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(verdict.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.ToErrorResponse(RejectionError(verdict)))
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(verdict.Remaining, 10))
		c.Next()
	}
}
