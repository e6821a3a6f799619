package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
)

// respondError maps service errors to HTTP responses. Typed errors carry
// their own status; anything else is a 500.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= 500 {
		log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(status, gin.H{"error": "request failed", "code": apperrors.GetCode(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperrors.GetCode(err)})
}
