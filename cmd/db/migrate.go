package db

import (
	"context"
	"database/sql"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/store"

	_ "github.com/lib/pq"
)

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies all pending database migrations",
		Run: func(cmd *cobra.Command, _ []string) {
			applyMigrations(cmd.Context())
		},
	}
}

func applyMigrations(ctx context.Context) {
	cfg := config.DefaultServiceConfigFromEnv()

	conn, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database connection")
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("Database not reachable")
		os.Exit(1)
	}

	applied, err := store.MigrateUp(conn)
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply migrations")
		os.Exit(1)
	}

	log.Info().Int("applied", applied).Msg("Finished applying migrations")
}
