package api

import (
	"errors"
	"strings"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Error codes carried in ErrorDetail.Code
const (
	CodeNotFound       = "NOT_FOUND"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeConflict       = "CONFLICT"
	CodeUnavailable    = "UNAVAILABLE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request. Daemon routes only carry Code.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

// errRateLimited is returned by the heartbeat limiter
var errRateLimited = errors.New("rate limit exceeded")

// classify maps an error to an HTTP status and code
func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errdefs.IsNotFound(err):
		return fiber.StatusNotFound, CodeNotFound
	case errdefs.IsUnauthorized(err):
		return fiber.StatusUnauthorized, CodeUnauthorized
	case errdefs.IsInvalidPayload(err):
		return fiber.StatusBadRequest, CodeInvalidPayload
	case errdefs.IsConflict(err):
		return fiber.StatusConflict, CodeConflict
	case errdefs.IsUnavailable(err):
		return fiber.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, errRateLimited):
		return fiber.StatusTooManyRequests, CodeRateLimited
	case errors.As(err, &fe):
		switch fe.Code {
		case fiber.StatusNotFound:
			return fe.Code, CodeNotFound
		case fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity, fiber.StatusBadRequest:
			return fe.Code, CodeInvalidPayload
		}
		return fe.Code, strings.ToUpper(strings.ReplaceAll(fe.Message, " ", "_"))
	}
	return fiber.StatusInternalServerError, CodeInternal
}

func isDaemonPath(path string) bool {
	return strings.HasPrefix(path, "/daemon/")
}

// ErrorHandler renders errors returned by handlers
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, errCode := classify(err)

		event := logger.Warn()
		if code >= fiber.StatusInternalServerError {
			event = logger.Error()
		}
		event.Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", code).
			Msg("Request error")

		detail := ErrorDetail{Code: errCode}
		if !isDaemonPath(c.Path()) {
			detail.Path = c.Path()
			detail.Message = err.Error()
			if code >= fiber.StatusInternalServerError && code != fiber.StatusServiceUnavailable {
				detail.Message = "internal server error"
			}
		}
		return c.Status(code).JSON(ErrorResponse{Error: detail})
	}
}
