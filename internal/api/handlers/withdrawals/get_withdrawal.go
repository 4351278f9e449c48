package withdrawals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
)

func GetWithdrawalRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/withdrawals/:id", getWithdrawalHandler(s))
}

func getWithdrawalHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		w, err := s.Withdraw.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newWithdrawalResponse(w))
	}
}
