package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

func PostScanRunRoute(s *api.Server) *echo.Route {
	return s.Router.Management.POST("/scan/run", postScanRunHandler(s))
}

// postScanRunHandler triggers one deposit scan cycle for a chain without
// waiting for the timer. The chain lease still applies.
func postScanRunHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		chainID := c.QueryParam("chain")
		if chainID == "" {
			return httperrors.ErrBadRequestMissingField("chain")
		}

		if err := s.Scanner.RunCycle(c.Request().Context(), chainID); err != nil {
			return err
		}

		return c.NoContent(http.StatusNoContent)
	}
}
