package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/casebook/internal/api/auth"
	"github.com/casebook/internal/exchange"
	"github.com/casebook/internal/executor"
	"github.com/casebook/internal/store"
)

// httpError maps domain errors onto HTTP responses
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, exchange.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	case errors.Is(err, executor.ErrUnknownHandle):
		return echo.NewHTTPError(http.StatusNotFound, "Unknown task handle")
	case errors.Is(err, auth.ErrInsufficientPermissions):
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authorized")
	case errors.Is(err, exchange.ErrUnsupportedModel):
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown or unsupported model")
	case errors.Is(err, exchange.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, exchange.ErrConflict.Error())
	case errors.Is(err, store.ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, "Already exists")
	case errors.Is(err, exchange.ErrSubmitFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Could not queue the request, try again later")
	default:
		log.Error().Err(err).Msg("Unhandled API error")
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}
