package http

import (
	"errors"
	"net/http"

	"chainiq-service/internal/domain"
	"chainiq-service/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain error categories to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": message}. Uncategorized errors are logged
// and hidden behind a generic message.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	var domainErr *domain.Error
	if status == http.StatusInternalServerError && !errors.As(err, &domainErr) {
		msg = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
