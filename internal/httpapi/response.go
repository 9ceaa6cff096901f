// Package httpapi is the inbound HTTP surface named in spec.md §6: candle
// ingestion, subscription CRUD and position lifecycle. Adapted from the
// teacher's internal/delivery/http response/DTO conventions
// (APIResponse envelope, Success/Error helper functions), re-pointed at
// the advisory backplane's own domain types.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"fxadvisor/internal/domain"
)

// APIResponse is the uniform envelope every handler returns, matching the
// teacher's dto.APIResponse shape.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// SuccessResponse sends a 200 with data.
func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{Status: "success", Data: data})
}

// CreatedResponse sends a 201 with data.
func CreatedResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, APIResponse{Status: "success", Data: data})
}

// ErrorResponse sends statusCode with message.
func ErrorResponse(c echo.Context, statusCode int, message string) error {
	return c.JSON(statusCode, APIResponse{Status: "error", Message: message})
}

// BadRequestResponse sends a 400.
func BadRequestResponse(c echo.Context, message string) error {
	return ErrorResponse(c, http.StatusBadRequest, message)
}

// NotFoundResponse sends a 404.
func NotFoundResponse(c echo.Context, message string) error {
	return ErrorResponse(c, http.StatusNotFound, message)
}

// ConflictResponse sends a 409.
func ConflictResponse(c echo.Context, message string) error {
	return ErrorResponse(c, http.StatusConflict, message)
}

// InternalServerErrorResponse sends a 500.
func InternalServerErrorResponse(c echo.Context, message string, err error) error {
	msg := message
	if err != nil {
		msg = message + ": " + err.Error()
	}
	return ErrorResponse(c, http.StatusInternalServerError, msg)
}

// WriteDomainError maps a *domain.Error to the appropriate HTTP status,
// per spec.md §7's error kind taxonomy.
func WriteDomainError(c echo.Context, op string, err error) error {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return InternalServerErrorResponse(c, op+" failed", err)
	}
	switch derr.Kind {
	case domain.KindInvalidInput:
		return BadRequestResponse(c, derr.Error())
	case domain.KindConflict:
		return ConflictResponse(c, derr.Error())
	case domain.KindUnavailable, domain.KindTransient:
		return ErrorResponse(c, http.StatusServiceUnavailable, derr.Error())
	default:
		return InternalServerErrorResponse(c, op+" failed", err)
	}
}
