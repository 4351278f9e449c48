package wallets

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

func GetOwnerTransactionsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/owners/:owner_id/transactions", getOwnerTransactionsHandler(s))
}

// getOwnerTransactionsHandler lists ledger entries for an owner, newest first.
func getOwnerTransactionsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid limit.", raw)
			}
			limit = parsed
		}

		list, err := s.Store.ListLedgerByOwner(c.Request().Context(), c.Param("owner_id"), limit)
		if err != nil {
			return err
		}

		res := make([]*TransactionResponse, 0, len(list))
		for _, lt := range list {
			res = append(res, newTransactionResponse(lt))
		}

		return c.JSON(http.StatusOK, res)
	}
}
