// Package handlers attaches all HTTP routes to the server's route groups.
package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/handlers/common"
	"github.com/cobaltpay/custody/internal/api/handlers/payments"
	"github.com/cobaltpay/custody/internal/api/handlers/wallets"
	"github.com/cobaltpay/custody/internal/api/handlers/withdrawals"
)

func AttachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		common.GetMetricsRoute(s),
		common.PostScanRunRoute(s),
		common.PostWithdrawalsProcessRoute(s),
		common.PostPaymentsSweepRoute(s),

		wallets.PostIssueWalletRoute(s),
		wallets.GetWalletRoute(s),
		wallets.GetOwnerWalletsRoute(s),
		wallets.GetOwnerTransactionsRoute(s),
		wallets.GetTransactionRoute(s),
		wallets.PutOwnerTierRoute(s),

		withdrawals.PostCreateWithdrawalRoute(s),
		withdrawals.GetWithdrawalRoute(s),
		withdrawals.GetWithdrawalsRoute(s),
		withdrawals.PostApproveWithdrawalRoute(s),
		withdrawals.PostRejectWithdrawalRoute(s),

		payments.PostCreatePaymentRoute(s),
		payments.GetPaymentRoute(s),
	}
}
