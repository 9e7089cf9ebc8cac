package http

import (
	"errors"
	"fmt"
	"net/http"

	"authz-gateway/internal/guard"
	"authz-gateway/internal/http/middleware"
	apperrors "authz-gateway/pkg/errors"
	"authz-gateway/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	jsonKeyError     = "error"
	jsonKeyRequestID = "request_id"
	unknownRequestID = "unknown"

	msgInternalServerError = "Internal server error"
	msgServiceUnavailable  = "Authorization service unavailable"
)

// NewHTTPErrorHandler maps errors returned by handlers and middleware to JSON
// responses. Messages of 5xx errors never reach the client.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	log = logger.Component(log, "http")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, message := classify(err)

		requestID := middleware.GetRequestID(c)
		if requestID == "" {
			requestID = c.Response().Header().Get(echo.HeaderXRequestID)
		}
		if requestID == "" {
			requestID = unknownRequestID
		}

		if code >= http.StatusInternalServerError {
			log.Error().
				Str("request_id", requestID).
				Int("status", code).
				Str("error", logger.SanitizeLogMessage(err.Error())).
				Msg("internal_server_error")
			if code != http.StatusServiceUnavailable {
				message = msgInternalServerError
			}
		} else {
			log.Debug().
				Str("request_id", requestID).
				Int("status", code).
				Str("error", logger.SanitizeLogMessage(err.Error())).
				Msg("client_error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]any{
				jsonKeyError:     message,
				jsonKeyRequestID: requestID,
			})
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to write error response")
		}
	}
}

func classify(err error) (int, string) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, fmt.Sprintf("%v", httpErr.Message)
	}

	code := http.StatusInternalServerError
	message := msgInternalServerError

	switch {
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return http.StatusUnauthorized, guard.MsgNotAuthenticated
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusForbidden, guard.MsgUnauthorized
	case errors.Is(err, apperrors.ErrInvalidCredentials),
		errors.Is(err, apperrors.ErrInvalidToken),
		errors.Is(err, apperrors.ErrExpiredToken):
		code = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, apperrors.ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, apperrors.ErrPolicyUnavailable):
		return http.StatusServiceUnavailable, msgServiceUnavailable
	}

	var appErr *apperrors.AppError
	if code < http.StatusInternalServerError && errors.As(err, &appErr) {
		message = appErr.Message
	} else if code < http.StatusInternalServerError {
		message = http.StatusText(code)
	}

	return code, message
}
