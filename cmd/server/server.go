package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/api/handlers"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/store"
)

const (
	migrateFlag = "migrate"

	mnemonicEnv   = "CUSTODY_MASTER_MNEMONIC"
	passphraseEnv = "CUSTODY_MASTER_PASSPHRASE"

	shutdownTimeout = 30 * time.Second
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the server",
		Long: `Starts the stateless RESTful JSON server

Requires configuration through ENV and a master mnemonic,
either via ` + mnemonicEnv + ` or entered interactively.`,
		Run: func(cmd *cobra.Command, _ []string) {
			migrate, err := cmd.Flags().GetBool(migrateFlag)
			if err != nil {
				log.Error().Err(err).Msg("Failed to parse migrate flag")
				os.Exit(1)
			}

			runServer(migrate)
		},
	}

	cmd.Flags().Bool(migrateFlag, false, "Applies pending database migrations before starting")

	return cmd
}

func runServer(migrate bool) {
	cfg := config.DefaultServiceConfigFromEnv()

	zerolog.SetGlobalLevel(cfg.Logger.Level)
	if cfg.Logger.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := api.NewServer(cfg)

	if err := s.InitComponents(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server components")
	}

	if migrate {
		applied, err := store.MigrateUp(s.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Int("applied", applied).Msg("Applied pending migrations")
	}

	if err := initializeSeed(s); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize master seed")
	}

	api.InitRouter(s)
	handlers.AttachAllRoutes(s)

	s.StartWorkers(ctx)

	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to gracefully shut down server")
		os.Exit(1)
	}
}

// initializeSeed loads the master mnemonic from the environment, or prompts
// for it when running on a terminal. The mnemonic itself is never logged.
// Without a mnemonic the server still starts, but the withdrawal signer and
// address issuance stay disabled; deposit scanning keeps running.
func initializeSeed(s *api.Server) error {
	mnemonic := os.Getenv(mnemonicEnv)
	passphrase := os.Getenv(passphraseEnv)

	if mnemonic == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Master mnemonic (empty to run without signer): ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		mnemonic = string(raw)
	}

	if mnemonic == "" {
		log.Warn().Msg("No master mnemonic configured, withdrawal signer disabled")

		return nil
	}

	if err := s.Seeds.Initialize(mnemonic, passphrase); err != nil {
		return err
	}

	log.Info().Msg("Master seed initialized")

	return nil
}
