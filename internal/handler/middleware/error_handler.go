package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/makkenzo/device-licensing-api/internal/handler/dto"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"go.uber.org/zap"
)

// StatusForError maps a service error to its HTTP status and error code.
func StatusForError(err error) (int, string) {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve), errors.Is(err, ierr.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ierr.ErrUnauthorized), errors.Is(err, ierr.ErrInvalidCredentials),
		errors.Is(err, ierr.ErrInvalidToken), errors.Is(err, ierr.ErrTokenInvalidClaims):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, ierr.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ierr.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ierr.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, ierr.ErrTooManyRequests):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ErrorHandler")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, code := StatusForError(err)
		if status >= http.StatusInternalServerError {
			log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		} else {
			log.Debug("Request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}

		errResponse := dto.APIErrorResponse{Code: code}

		var ve validator.ValidationErrors
		switch {
		case errors.As(err, &ve):
			errResponse.Message = "Input validation failed."
			errResponse.Details = buildValidationErrors(ve)
		case errors.Is(err, ierr.ErrInvalidCredentials):
			errResponse.Message = ierr.ErrInvalidCredentials.Error()
		case status == http.StatusUnauthorized:
			errResponse.Message = "Authentication required or failed."
		case status >= http.StatusInternalServerError:
			errResponse.Message = "An unexpected error occurred."
		default:
			errResponse.Message = ierr.Message(err)
		}

		c.AbortWithStatusJSON(status, errResponse)
	}
}

func buildValidationErrors(ve validator.ValidationErrors) []dto.FieldError {
	details := make([]dto.FieldError, len(ve))
	for i, fe := range ve {
		details[i] = dto.FieldError{
			Field:   fe.Field(),
			Message: getValidationErrorMsg(fe),
		}
	}
	return details
}

func getValidationErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s characters", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("Field '%s' must be a valid UUID", fe.Field())
	default:
		return fmt.Sprintf("Field '%s' failed validation on the '%s' tag", fe.Field(), fe.Tag())
	}
}
