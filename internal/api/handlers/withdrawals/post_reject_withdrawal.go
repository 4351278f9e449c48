package withdrawals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

type RejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

func PostRejectWithdrawalRoute(s *api.Server) *echo.Route {
	return s.Router.Management.POST("/withdrawals/:id/reject", postRejectWithdrawalHandler(s))
}

// postRejectWithdrawalHandler cancels a pending withdrawal and releases the
// reserved funds back to the wallet.
func postRejectWithdrawalHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body RejectWithdrawalRequest
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid request body.", err.Error())
		}

		w, err := s.Withdraw.Reject(c.Request().Context(), c.Param("id"), body.Reason)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newWithdrawalResponse(w))
	}
}
