package payments

import (
	"net/http"

	"github.com/aarondl/null/v8"
	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
	"github.com/cobaltpay/custody/internal/store"
)

type CreatePaymentRequest struct {
	OrderID       string `json:"order_id"`
	ChainID       string `json:"chain_id"`
	APIKeyID      string `json:"api_key_id"`
	CommissionBPS int    `json:"commission_bps"`
}

func PostCreatePaymentRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/payments", postCreatePaymentHandler(s))
}

// postCreatePaymentHandler registers an expected contract payment for an
// order so the reconciler can match the on-chain event to it.
func postCreatePaymentHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body CreatePaymentRequest
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid request body.", err.Error())
		}

		switch {
		case body.OrderID == "":
			return httperrors.ErrBadRequestMissingField("order_id")
		case body.ChainID == "":
			return httperrors.ErrBadRequestMissingField("chain_id")
		case body.CommissionBPS < 0 || body.CommissionBPS > 10_000:
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Commission must be between 0 and 10000 basis points.", "commission_bps")
		}

		payment := &store.Payment{
			OrderID:       body.OrderID,
			ChainID:       body.ChainID,
			APIKeyID:      null.NewString(body.APIKeyID, body.APIKeyID != ""),
			CommissionBPS: body.CommissionBPS,
		}
		if err := s.Store.CreatePayment(c.Request().Context(), payment); err != nil {
			return err
		}

		return c.JSON(http.StatusCreated, newPaymentResponse(payment))
	}
}
