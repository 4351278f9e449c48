// Package command holds shared helpers for cobra subcommands that need a
// fully initialized server (database, chain adapters, services).
package command

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltpay/custody/internal/api"
	"github.com/cobaltpay/custody/internal/config"
)

// NewSubcommandGroup returns a command that only exists to group its
// subcommands and prints usage when invoked directly.
func NewSubcommandGroup(use string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: "Groups " + use + " subcommands",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("Failed to print help")
			}
		},
	}

	cmd.AddCommand(subcommands...)

	return cmd
}

// WithServer initializes a server from the given config, runs fn against it
// and shuts the server down afterwards. Used by one-shot subcommands that
// need database or chain access without serving HTTP.
func WithServer(ctx context.Context, cfg config.Server, fn func(ctx context.Context, s *api.Server) error) error {
	s := api.NewServer(cfg)

	if err := s.InitComponents(); err != nil {
		return errors.Wrap(err, "failed to initialize server components")
	}

	defer func() {
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("Failed to shut down server")
		}
	}()

	return fn(ctx, s)
}
