package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
)

func GetOwnerWalletsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/owners/:owner_id/wallets", getOwnerWalletsHandler(s))
}

func getOwnerWalletsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := s.Wallet.ListWallets(c.Request().Context(), c.Param("owner_id"))
		if err != nil {
			return err
		}

		res := make([]*WalletResponse, 0, len(list))
		for _, w := range list {
			res = append(res, newWalletResponse(w))
		}

		return c.JSON(http.StatusOK, res)
	}
}
