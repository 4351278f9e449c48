package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
)

func GetWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/wallets/:id", getWalletHandler(s))
}

func getWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		wallet, err := s.Wallet.GetWallet(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newWalletResponse(wallet))
	}
}
