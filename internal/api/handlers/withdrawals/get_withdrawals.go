package withdrawals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
	"github.com/cobaltpay/custody/internal/store"
)

func GetWithdrawalsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/withdrawals", getWithdrawalsHandler(s))
}

func getWithdrawalsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		chainID := c.QueryParam("chain")
		if chainID == "" {
			return httperrors.ErrBadRequestMissingField("chain")
		}

		status := c.QueryParam("status")
		switch status {
		case store.WithdrawalStatusPending,
			store.WithdrawalStatusApproved,
			store.WithdrawalStatusProcessing,
			store.WithdrawalStatusCompleted,
			store.WithdrawalStatusFailed,
			store.WithdrawalStatusCancelled:
		default:
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation,
				"Validation failed.", "unknown withdrawal status")
		}

		list, err := s.Store.ListWithdrawalsByStatus(c.Request().Context(), chainID, status)
		if err != nil {
			return err
		}

		res := make([]*WithdrawalResponse, 0, len(list))
		for _, w := range list {
			res = append(res, newWithdrawalResponse(w))
		}

		return c.JSON(http.StatusOK, res)
	}
}
