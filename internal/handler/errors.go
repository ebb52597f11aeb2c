package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/bosted-app/backend/internal/model"
	"github.com/bosted-app/backend/internal/service"
)

const retryAfterSeconds = "1"

func init() {
	// Report binding errors under the JSON names clients send.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// writeBindError turns gin binding failures into the same 400 shape the
// service uses for ValidationError.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describeTag(fe)
	}
	c.JSON(http.StatusBadRequest, model.ValidationErrorResponse{
		Error:  service.ErrValidationFailed.Error(),
		Fields: fields,
	})
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

// writeAuthError maps service errors to fixed statuses and messages. Anything
// unexpected is logged and returned as a bare 500.
func writeAuthError(c *gin.Context, log *slog.Logger, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, model.ValidationErrorResponse{
			Error:  service.ErrValidationFailed.Error(),
			Fields: verr.Fields,
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: service.ErrInvalidCredentials.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: "forbidden"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "not found"})
	case errors.Is(err, service.ErrCreationFailed):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: service.ErrCreationFailed.Error()})
	case errors.Is(err, service.ErrUnavailable):
		log.WarnContext(c.Request.Context(), "store unavailable", slog.String("route", c.FullPath()), slog.Any("error", err))
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: service.ErrUnavailable.Error()})
	default:
		log.ErrorContext(c.Request.Context(), "request failed", slog.String("route", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "server error"})
	}
}
