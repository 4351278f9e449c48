package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

type IssueWalletRequest struct {
	OwnerID     string `json:"owner_id"`
	ChainID     string `json:"chain_id"`
	TokenSymbol string `json:"token_symbol"`
}

func PostIssueWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/wallets", postIssueWalletHandler(s))
}

// postIssueWalletHandler issues (or returns) the deposit address for an
// (owner, chain, token) triple. Calling it twice returns the same wallet.
func postIssueWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body IssueWalletRequest
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid request body.", err.Error())
		}

		switch {
		case body.OwnerID == "":
			return httperrors.ErrBadRequestMissingField("owner_id")
		case body.ChainID == "":
			return httperrors.ErrBadRequestMissingField("chain_id")
		case body.TokenSymbol == "":
			return httperrors.ErrBadRequestMissingField("token_symbol")
		}

		wallet, err := s.Wallet.IssueDepositAddress(c.Request().Context(), body.OwnerID, body.ChainID, body.TokenSymbol)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, newWalletResponse(wallet))
	}
}
