package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
)

func GetTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/transactions/:tx_hash", getTransactionHandler(s))
}

// getTransactionHandler resolves a ledger entry by its on-chain transaction
// hash, covering both deposits and withdrawals.
func getTransactionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		lt, err := s.Store.GetLedgerByTxHash(c.Request().Context(), c.Param("tx_hash"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newTransactionResponse(lt))
	}
}
