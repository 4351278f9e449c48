package api

import (
	"context"
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/chain/evm"
	"github.com/cobaltpay/custody/internal/chain/filecoin"
	"github.com/cobaltpay/custody/internal/chain/solana"
	"github.com/cobaltpay/custody/internal/chain/sui"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/keys"
	"github.com/cobaltpay/custody/internal/limits"
	"github.com/cobaltpay/custody/internal/metrics"
	"github.com/cobaltpay/custody/internal/notify"
	"github.com/cobaltpay/custody/internal/reconciler"
	"github.com/cobaltpay/custody/internal/scanner"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/wallet"
	"github.com/cobaltpay/custody/internal/withdraw"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server keeps all the dependencies of the running service.
type Server struct {
	Config config.Server
	DB     *sql.DB
	Echo   *echo.Echo
	Router *Router

	Store    *store.Store
	Registry *chain.Registry
	Seeds    keys.SeedManager
	Keys     keys.Service
	Limits   *limits.StaticResolver
	Notify   notify.Service
	Metrics  *metrics.Metrics

	Wallet     wallet.Service
	Scanner    scanner.Service
	Withdraw   withdraw.Service
	Reconciler reconciler.Service

	cancelWorkers context.CancelFunc
}

func NewServer(cfg config.Server) *Server {
	return &Server{Config: cfg}
}

// InitComponents opens the database and builds the full service graph.
// The seed manager must be initialized separately before the withdrawal
// pipeline or address issuance can work.
func (s *Server) InitComponents() error {
	db, err := sql.Open("postgres", s.Config.Database.ConnectionString())
	if err != nil {
		return errors.Wrap(err, "failed to open database connection")
	}
	s.DB = db
	s.Store = store.New(db)

	s.Registry = chain.NewRegistry()
	if err := s.registerAdapters(); err != nil {
		return err
	}

	s.Seeds = keys.NewSeedManager()
	s.Keys, err = keys.NewService(s.Seeds)
	if err != nil {
		return errors.Wrap(err, "failed to create key service")
	}

	s.Limits, err = limits.NewStaticResolver(s.Config.Limits)
	if err != nil {
		return errors.Wrap(err, "failed to create tier resolver")
	}

	if s.Config.NATS.Enabled {
		s.Notify, err = notify.NewNATSService(s.Config.NATS.URL)
		if err != nil {
			return errors.Wrap(err, "failed to connect notification broker")
		}
	} else {
		s.Notify = notify.NewNoopService()
	}

	s.Metrics = metrics.New(prometheus.DefaultRegisterer)

	s.Wallet, err = wallet.NewService(s.Store, s.Keys, s.Registry, s.Config.Chains)
	if err != nil {
		return errors.Wrap(err, "failed to create wallet service")
	}
	s.Scanner = scanner.NewService(s.Store, s.Registry, s.Limits, s.Notify, s.Metrics,
		s.Config.Scanner, s.Config.Limits.DepositWindow, s.Config.Chains)
	s.Withdraw = withdraw.NewService(s.Store, s.Registry, s.Keys, s.Limits, s.Notify, s.Metrics,
		s.Config.Withdrawals, s.Config.Chains)
	s.Reconciler = reconciler.NewService(s.Store, s.Registry, s.Notify, s.Metrics,
		s.Config.Reconciler, s.Config.Chains)

	return nil
}

func (s *Server) registerAdapters() error {
	for _, chainCfg := range s.Config.Chains {
		adapter, err := buildAdapter(chainCfg)
		if err != nil {
			return err
		}
		s.Registry.Register(adapter)
	}

	return nil
}

//nolint:ireturn
func buildAdapter(chainCfg config.Chain) (chain.Adapter, error) {
	rpcURL := ""
	if len(chainCfg.RPCURLs) > 0 {
		rpcURL = chainCfg.RPCURLs[0]
	}

	switch chain.Family(chainCfg.Family) {
	case chain.FamilyEVM:
		return evm.New(evm.Config{
			Chain:       chainCfg.ID,
			NumericID:   chainCfg.NumericID,
			RPCURLs:     chainCfg.RPCURLs,
			LogPageSize: chainCfg.LogPageSize,
		})
	case chain.FamilySolana:
		return solana.New(solana.Config{Chain: chainCfg.ID, RPCURL: rpcURL}), nil
	case chain.FamilySui:
		return sui.New(sui.Config{Chain: chainCfg.ID, RPCURL: rpcURL}), nil
	case chain.FamilyFilecoin:
		return filecoin.New(filecoin.Config{Chain: chainCfg.ID, RPCURL: rpcURL}), nil
	default:
		return nil, errors.Errorf("unknown chain family %q for chain %s", chainCfg.Family, chainCfg.ID)
	}
}

// StartWorkers launches the background pipelines. The withdrawal signer
// only runs when the master seed is loaded; deposit scanning and payment
// reconciliation are unaffected by its absence.
func (s *Server) StartWorkers(ctx context.Context) {
	ctx, s.cancelWorkers = context.WithCancel(ctx)
	s.Scanner.Start(ctx)
	if s.Seeds.IsInitialized() {
		s.Withdraw.Start(ctx)
	} else {
		log.Warn().Msg("Master seed not initialized, withdrawal signer disabled")
	}
	s.Reconciler.Start(ctx)
}

func (s *Server) Start() error {
	return s.Echo.Start(s.Config.Echo.ListenAddress)
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Warn().Msg("Shutting down server")

	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}
	if s.Scanner != nil {
		s.Scanner.Stop()
	}
	if s.Withdraw != nil {
		s.Withdraw.Stop()
	}
	if s.Reconciler != nil {
		s.Reconciler.Stop()
	}
	if s.Notify != nil {
		s.Notify.Close()
	}
	if s.Seeds != nil {
		s.Seeds.Clear()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}
	if s.Echo != nil {
		return s.Echo.Shutdown(ctx)
	}

	return nil
}

// Ready reports whether the server can serve traffic.
func (s *Server) Ready(ctx context.Context) error {
	if s.DB == nil {
		return errors.New("database not initialized")
	}

	return errors.Wrap(s.DB.PingContext(ctx), "database not reachable")
}
