package middleware

import (
	stderrors "errors"
	"net/http"

	"playloop/internal/core/domain"
	"playloop/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// appErrorFor maps domain sentinels that reach a handler unwrapped.
func appErrorFor(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return errors.WrapError(err, errors.ErrCodeNotFound, "session not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrQualityNotFound):
		return errors.WrapError(err, errors.ErrCodeNotFound, "quality not found in ladder", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrInvalidLadder), stderrors.Is(err, domain.ErrInvalidTelemetry):
		return errors.WrapError(err, errors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrSessionClosed):
		return errors.NewSessionClosedError(err)
	case stderrors.Is(err, domain.ErrRetriesExhausted):
		return errors.NewRetriesExhaustedError(err, 0, 0)
	case stderrors.Is(err, domain.ErrRecoveryInProgress):
		return errors.NewRecoveryInProgressError(err)
	}
	return nil
}

// ErrorHandlerMiddleware renders the last error attached to the context.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if appErr := appErrorFor(err); appErr != nil {
			log := logger.Infow
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				log = logger.Errorw
			}
			log("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
