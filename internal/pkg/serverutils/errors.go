package serverutils

import (
	"errors"
	"strings"

	"agentic-retrieval-be/internal/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// AppError is an error the API may show to the caller as-is.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func BadRequest(msg string) *AppError   { return &AppError{Code: fiber.StatusBadRequest, Message: msg} }
func Unauthorized(msg string) *AppError { return &AppError{Code: fiber.StatusUnauthorized, Message: msg} }
func Forbidden(msg string) *AppError    { return &AppError{Code: fiber.StatusForbidden, Message: msg} }
func NotFound(msg string) *AppError     { return &AppError{Code: fiber.StatusNotFound, Message: msg} }

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists failed fields by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		parts = append(parts, f+": "+tag)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return BadRequest(err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonName(fe.Field())] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// ErrorHandlerMiddleware turns handler errors into JSON. Internal errors are
// logged and never echoed to the caller.
func ErrorHandlerMiddleware(log logger.ILogger) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var appErr *AppError
		var valErr *ValidationError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &valErr):
			return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Message: "Invalid request", Errors: valErr.Fields})
		case errors.As(err, &appErr):
			return ctx.Status(appErr.Code).JSON(ErrorResponse{Message: appErr.Message})
		case errors.As(err, &fiberErr):
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse{Message: fiberErr.Message})
		}

		log.Error("HTTP", "Unhandled error", map[string]interface{}{
			"path":   ctx.Path(),
			"method": ctx.Method(),
			"error":  err.Error(),
		})
		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Message: "Internal server error"})
	}
}
