package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/util"
)

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := s.Ready(ctx); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Msg("Readiness check failed")
			return c.String(http.StatusServiceUnavailable, "Not ready.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
