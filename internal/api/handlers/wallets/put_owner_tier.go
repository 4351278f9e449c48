package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/httperrors"
)

type SetOwnerTierRequest struct {
	Tier string `json:"tier"`
}

func PutOwnerTierRoute(s *api.Server) *echo.Route {
	return s.Router.Management.PUT("/owners/:owner_id/tier", putOwnerTierHandler(s))
}

// putOwnerTierHandler assigns a verification tier to an owner. The tier must
// be one of the configured tier names.
func putOwnerTierHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body SetOwnerTierRequest
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Invalid request body.", err.Error())
		}

		if body.Tier == "" {
			return httperrors.ErrBadRequestMissingField("tier")
		}

		if err := s.Limits.Assign(c.Param("owner_id"), body.Tier); err != nil {
			return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Unknown tier.", body.Tier)
		}

		return c.NoContent(http.StatusNoContent)
	}
}
