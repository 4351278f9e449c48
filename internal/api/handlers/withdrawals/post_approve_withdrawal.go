package withdrawals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

type ApproveWithdrawalRequest struct {
	ApprovedBy string `json:"approved_by"`
}

func PostApproveWithdrawalRoute(s *api.Server) *echo.Route {
	return s.Router.Management.POST("/withdrawals/:id/approve", postApproveWithdrawalHandler(s))
}

// postApproveWithdrawalHandler approves a pending withdrawal. The owner's
// tier lifetime cap is checked atomically with the status transition.
func postApproveWithdrawalHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body ApproveWithdrawalRequest
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid request body.", err.Error())
		}

		if body.ApprovedBy == "" {
			return httperrors.ErrBadRequestMissingField("approved_by")
		}

		w, err := s.Withdraw.Approve(c.Request().Context(), c.Param("id"), body.ApprovedBy)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newWithdrawalResponse(w))
	}
}
