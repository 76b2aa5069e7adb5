package httpx

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

// Status maps an error code onto its HTTP status.
func Status(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case apperr.CodeForbidden:
		return fiber.StatusForbidden
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodeConflict:
		return fiber.StatusConflict
	case apperr.CodeSlowConsumer:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// FromError writes err using the envelope. Internal causes are never echoed.
func FromError(c *fiber.Ctx, err error) error {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) || appErr.Code == apperr.CodeInternal || appErr.Code == apperr.CodeUnknown {
		return Internal(c, string(apperr.CodeInternal))
	}
	return Error(c, Status(appErr.Code), string(appErr.Code), appErr.Message)
}

func LocalString(c *fiber.Ctx, key string) (string, error) {
	v := c.Locals(key)
	if v == nil {
		return "", fmt.Errorf("missing local %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("invalid local %s", key)
	}
	return s, nil
}
