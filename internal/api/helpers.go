package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/graft/internal/tuner"
)

func decodeJSON[T any](c *echo.Context) (T, error) {
	var v T
	dec := json.NewDecoder(c.Request().Body)
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": msg,
		},
	})
}

// writeTunerError maps the library's error taxonomy onto HTTP statuses.
func writeTunerError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, tuner.ErrUnsupportedMerge):
		return writeError(c, http.StatusConflict, "unsupported_merge", err.Error())
	case errors.Is(err, tuner.ErrConfig):
		return writeBadRequest(c, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}
