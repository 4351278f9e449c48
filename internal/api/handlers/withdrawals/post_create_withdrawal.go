package withdrawals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
	"github.com/cobaltpay/custody/internal/withdraw"
)

type CreateWithdrawalRequest struct {
	WalletID  string `json:"wallet_id"`
	ToAddress string `json:"to_address"`
	Amount    string `json:"amount"`
}

func PostCreateWithdrawalRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/withdrawals", postCreateWithdrawalHandler(s))
}

// postCreateWithdrawalHandler creates a withdrawal request and reserves the
// amount plus the estimated fee on the wallet.
func postCreateWithdrawalHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body CreateWithdrawalRequest
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid request body.", err.Error())
		}

		switch {
		case body.WalletID == "":
			return httperrors.ErrBadRequestMissingField("wallet_id")
		case body.ToAddress == "":
			return httperrors.ErrBadRequestMissingField("to_address")
		case body.Amount == "":
			return httperrors.ErrBadRequestMissingField("amount")
		}

		w, err := s.Withdraw.Create(c.Request().Context(), withdraw.CreateRequest{
			WalletID:  body.WalletID,
			ToAddress: body.ToAddress,
			Amount:    body.Amount,
		})
		if err != nil {
			return err
		}

		return c.JSON(http.StatusCreated, newWithdrawalResponse(w))
	}
}
