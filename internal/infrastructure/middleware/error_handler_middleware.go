package middleware

import (
	"errors"
	"net/http"

	"lessonlive/internal/core/domain"
	"lessonlive/pkg/circuitbreaker"
	apperrors "lessonlive/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MapError translates coordinator errors into application errors. Rejections
// carry only their reason.
func MapError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	if reason, ok := domain.RejectionReason(err); ok {
		appErr := apperrors.NewRejectedError(string(reason))
		if reason == domain.RejectUnknownRoom {
			appErr.HTTPStatus = http.StatusNotFound
		}
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return apperrors.NewNotFoundError("room")
	case errors.Is(err, domain.ErrNoteNotFound):
		return apperrors.NewNotFoundError("note")
	case errors.Is(err, domain.ErrRecordNotFound):
		return apperrors.NewNotFoundError("moderation record")
	case errors.Is(err, domain.ErrRoomExists):
		return apperrors.NewConflictError(err.Error())
	case errors.Is(err, domain.ErrNotInRoom),
		errors.Is(err, domain.ErrAlreadyInOtherRoom),
		errors.Is(err, domain.ErrConnectionInUse):
		return apperrors.NewConflictError(err.Error())
	case errors.Is(err, domain.ErrContentTooLarge):
		return apperrors.NewTooLargeError(err.Error())
	case errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrInvalidRoleChange),
		errors.Is(err, domain.ErrSelfModeration):
		return apperrors.NewInvalidInputError(err.Error())
	case errors.Is(err, domain.ErrRoomHeldElsewhere),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, circuitbreaker.ErrOpen):
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, err.Error(), http.StatusServiceUnavailable)
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

// ErrorHandlerMiddleware renders the last error a handler attached with c.Error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr := MapError(err)

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
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
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
