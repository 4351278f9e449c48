package payments

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
)

func GetPaymentRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/payments/:order_id", getPaymentHandler(s))
}

func getPaymentHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := s.Store.GetPaymentByOrderID(c.Request().Context(), c.Param("order_id"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newPaymentResponse(p))
	}
}
