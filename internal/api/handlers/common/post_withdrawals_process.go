package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

func PostWithdrawalsProcessRoute(s *api.Server) *echo.Route {
	return s.Router.Management.POST("/withdrawals/process", postWithdrawalsProcessHandler(s))
}

// postWithdrawalsProcessHandler runs one withdrawal worker cycle for a chain:
// broadcast everything approved, then poll in-flight transactions for
// confirmations.
func postWithdrawalsProcessHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		chainID := c.QueryParam("chain")
		if chainID == "" {
			return httperrors.ErrBadRequestMissingField("chain")
		}

		if !s.Seeds.IsInitialized() {
			return httperrors.NewHTTPError(http.StatusServiceUnavailable, httperrors.TypeGeneric,
				"Withdrawal signer disabled: master seed not initialized.")
		}

		if err := s.Withdraw.RunCycle(c.Request().Context(), chainID); err != nil {
			return err
		}

		return c.NoContent(http.StatusNoContent)
	}
}
