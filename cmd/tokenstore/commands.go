package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tokenstore/pkg/logger"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
)

// ErrConfirmationRequired is returned by clear when --yes is missing.
var ErrConfirmationRequired = errors.New("tokenstore: clear requires --yes")

// ErrPurgeUnsupported is returned when the backend cannot delete expired records.
var ErrPurgeUnsupported = errors.New("tokenstore: backend does not support purge")

func buildRootCmd(log *slog.Logger, open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tokenstore",
		Short:         "Administer the passwordless token store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		buildMigrateCmd(log, open),
		buildCountCmd(log, open),
		buildPurgeCmd(log, open),
		buildClearCmd(log, open),
		buildHealthCmd(log, open),
	)
	return cmd
}

// withBackend opens the backend, runs fn and closes the backend.
func withBackend(cmd *cobra.Command, log *slog.Logger, open opener, fn func(*backend) error) error {
	b, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	if err := fn(b); err != nil {
		log.ErrorContext(cmd.Context(), "command failed",
			logger.Command(cmd.Name()),
			logger.Backend(b.name),
			logger.Error(err),
		)
		return err
	}
	return nil
}

func buildMigrateCmd(log *slog.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables or indexes the backend needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, log, open, func(b *backend) error {
				if err := b.migrate(cmd.Context()); err != nil {
					return err
				}
				log.InfoContext(cmd.Context(), "migrations applied", logger.Backend(b.name))
				fmt.Fprintf(cmd.OutOrStdout(), "%s: migrated\n", b.name)
				return nil
			})
		},
	}
}

func buildCountCmd(log *slog.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored records, expired ones included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, log, open, func(b *backend) error {
				n, err := b.store.Length(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func buildPurgeCmd(log *slog.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, log, open, func(b *backend) error {
				p, ok := b.store.(tokenstore.Purger)
				if !ok {
					return ErrPurgeUnsupported
				}
				n, err := p.DeleteExpired(cmd.Context())
				if err != nil {
					return err
				}
				log.InfoContext(cmd.Context(), "expired records purged",
					logger.Backend(b.name),
					logger.Count(n),
				)
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", n)
				return nil
			})
		},
	}
}

func buildClearCmd(log *slog.Logger, open opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return ErrConfirmationRequired
			}
			return withBackend(cmd, log, open, func(b *backend) error {
				if err := b.store.Clear(cmd.Context()); err != nil {
					return err
				}
				log.WarnContext(cmd.Context(), "token store cleared", logger.Backend(b.name))
				fmt.Fprintln(cmd.OutOrStdout(), "cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm removal of every record")
	return cmd
}

func buildHealthCmd(log *slog.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, log, open, func(b *backend) error {
				if err := b.health(cmd.Context()); err != nil {
					return fmt.Errorf("%s unhealthy: %w", b.name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", b.name)
				return nil
			})
		},
	}
}
