package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"authz-gateway/internal/guard"
	apperrors "authz-gateway/pkg/errors"

	"github.com/labstack/echo/v4"
)

// maxBodyBytes matches the BodyLimit installed on the server.
const maxBodyBytes int64 = 1 << 20

// decodeJSON reads exactly one JSON object into dst. Unknown fields are refused
// so a sign-in or role assignment cannot smuggle extra attributes.
func decodeJSON(c echo.Context, dst any) error {
	req := c.Request()
	if !strings.HasPrefix(strings.ToLower(req.Header.Get(echo.HeaderContentType)), echo.MIMEApplicationJSON) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, msgContentTypeJSONRequired)
	}

	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return echo.NewHTTPError(http.StatusBadRequest, msgEmptyBody)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return echo.NewHTTPError(http.StatusBadRequest, msgUnexpectedField+" "+field)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, msgMalformedBody)
		}
	}

	if dec.More() {
		return echo.NewHTTPError(http.StatusBadRequest, msgMultipleDocuments)
	}
	return nil
}

func respondError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{jsonKeyError: message})
}

func respondMessage(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{jsonKeyMessage: message})
}

func handleHTTPError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		return respondError(c, he.Code, msg)
	}

	return respondError(c, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

// respondDenial writes a guard denial: 401 when nobody is signed in, 403 otherwise.
func respondDenial(c echo.Context, d *guard.Denial) error {
	status := http.StatusForbidden
	if errors.Is(d.Cause, apperrors.ErrNotAuthenticated) {
		status = http.StatusUnauthorized
	}
	return c.JSON(status, d)
}

// respondResult renders a guarded result. Work errors go to the HTTP error handler.
func respondResult[T any](c echo.Context, status int, res guard.Result[T]) error {
	if res.Denied() {
		return respondDenial(c, res.Denial)
	}
	if res.Err != nil {
		return res.Err
	}
	return c.JSON(status, res.Value)
}
