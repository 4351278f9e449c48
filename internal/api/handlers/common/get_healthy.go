package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
)

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", getHealthyHandler(s))
}

// getHealthyHandler only reports that the process is up; readiness checks
// live in /-/ready.
func getHealthyHandler(_ *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}
}
