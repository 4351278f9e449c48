package api

import (
	"crypto/subtle"
	"net/http"

	echoprometheus "github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cobaltpay/custody/internal/api/httperrors"
	"github.com/cobaltpay/custody/internal/limits"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/util"
	"github.com/cobaltpay/custody/internal/wallet"
	"github.com/cobaltpay/custody/internal/withdraw"
)

// InitRouter builds the echo instance, middleware stack and route groups.
// Handlers attach themselves afterwards via AttachRoutes.
func InitRouter(s *Server) {
	e := echo.New()
	e.Debug = false
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(s)

	if s.Config.Echo.EnableRecoverMiddleware {
		e.Use(middleware.Recover())
	}
	if s.Config.Echo.EnableRequestIDMiddleware {
		e.Use(middleware.RequestID())
	}
	if s.Config.Echo.EnableLoggerMiddleware {
		e.Use(requestLogger())
	}
	e.Use(echoprometheus.NewMiddleware("custody_http"))

	s.Echo = e
	s.Router = &Router{
		Root:       e.Group(""),
		Management: e.Group("/-", managementSecretAuth(s.Config.Management.Secret)),
		APIV1:      e.Group("/api/v1"),
	}
}

// requestLogger attaches a request-scoped zerolog logger to the context
// and emits one line per request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			l := log.With().
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Logger()
			c.SetRequest(req.WithContext(util.WithLogger(req.Context(), l)))

			err := next(c)

			l.Debug().Int("status", c.Response().Status).Msg("Request handled")

			return err
		}
	}
}

// managementSecretAuth guards the management group with a shared secret
// passed via the mgmt-secret query parameter.
func managementSecretAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}
			provided := c.QueryParam("mgmt-secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				return echo.ErrUnauthorized
			}

			return next(c)
		}
	}
}

// errorHandler maps domain errors onto the public JSON error shape.
func errorHandler(s *Server) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		httpErr := toHTTPError(err)
		if httpErr.Code == http.StatusInternalServerError && s.Config.Echo.HideInternalServerErrorDetails {
			httpErr = httperrors.NewHTTPError(http.StatusInternalServerError, httperrors.TypeGeneric, "Internal server error.")
			util.LogFromContext(c.Request().Context()).Error().Err(err).Msg("Unhandled error")
		}

		if writeErr := c.JSON(httpErr.Code, httpErr); writeErr != nil {
			log.Error().Err(writeErr).Msg("Failed to write error response")
		}
	}
}

func toHTTPError(err error) *httperrors.HTTPError {
	var httpErr *httperrors.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		return httperrors.NewHTTPError(echoErr.Code, httperrors.TypeGeneric, http.StatusText(echoErr.Code))
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return httperrors.ErrNotFound
	case errors.Is(err, store.ErrInsufficientFunds):
		return httperrors.NewHTTPError(http.StatusConflict, httperrors.TypeInsufficientFunds, "Insufficient available balance.")
	case errors.Is(err, store.ErrInvalidTransition):
		return httperrors.NewHTTPError(http.StatusConflict, httperrors.TypeInvalidTransition, "Invalid state transition.")
	case errors.Is(err, store.ErrDuplicateOrder):
		return httperrors.NewHTTPError(http.StatusConflict, httperrors.TypeConflict, "Order already exists.")
	case errors.Is(err, withdraw.ErrInvalidAddress), errors.Is(err, withdraw.ErrInvalidAmount), errors.Is(err, wallet.ErrUnknownToken):
		return httperrors.NewHTTPErrorWithDetail(http.StatusBadRequest, httperrors.TypeValidation, "Validation failed.", err.Error())
	}

	if errors.Is(err, limits.ErrLimitExceeded) {
		return httperrors.NewHTTPErrorWithDetail(http.StatusConflict, httperrors.TypeLimitExceeded, "Tier limit exceeded.", err.Error())
	}

	return httperrors.NewHTTPError(http.StatusInternalServerError, httperrors.TypeGeneric, "Internal server error.")
}
