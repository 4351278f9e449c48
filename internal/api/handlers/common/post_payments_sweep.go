package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

func PostPaymentsSweepRoute(s *api.Server) *echo.Route {
	return s.Router.Management.POST("/payments/sweep", postPaymentsSweepHandler(s))
}

// postPaymentsSweepHandler forces a fallback sweep over stale pending payments
// for a chain, independent of the sweep timer.
func postPaymentsSweepHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		chainID := c.QueryParam("chain")
		if chainID == "" {
			return httperrors.ErrBadRequestMissingField("chain")
		}

		if err := s.Reconciler.Sweep(c.Request().Context(), chainID); err != nil {
			return err
		}

		return c.NoContent(http.StatusNoContent)
	}
}
